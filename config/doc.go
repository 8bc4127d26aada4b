// Package config loads the bot configuration.
//
// Values come from three layers, later ones overriding earlier ones:
//
//  1. Built-in defaults (see Default).
//  2. An optional YAML file named by AETHER_CONFIG.
//  3. Environment variables such as BOT_TOKEN, APP_ID, APP_HASH, OWNER_ID,
//     DAILY_QUOTA or MAX_CONCURRENCY.
//
// Byte sizes accept human readable forms ("500MB", "1.95GiB"); durations use
// Go syntax ("90s", "5m"). An example file:
//
//	telegram:
//	  bot_token: "123:abc"
//	  app_id: 12345
//	  app_hash: "deadbeef"
//	  owner_id: 1111
//	  premium_ids: [2222, 3333]
//	http:
//	  addr: ":8080"
//	  api_token: "change-me"
//	  cors_origins: ["*"]
//	database_url: "postgres://aether:secret@db:5432/aether"
//	cobalt:
//	  api: "http://cobalt:9000"
//	work_dir: /var/lib/aether/jobs
//	log_level: info
//	limits:
//	  max_concurrency: 0   # adaptive
//	  daily_quota: 5GiB
//	  max_part_size: 1.95GiB
//	  max_queue_length_per_user: 3
//	  rate_limit:
//	    count: 5
//	    window: 1m
//	artifacts:
//	  ttl: 5m
//	  sweep_interval: 1m
//	retry:
//	  max_attempts: 3
//	  base: 2s
//	  max: 1m
//	fetch_timeout: 30m
package config
