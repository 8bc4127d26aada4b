// Package cache remembers how to address chats the bot has seen, so requests
// can be delivered to a chat by its numeric ID.
package cache

import (
	"fmt"
	"sync"

	"github.com/gotd/td/tg"
)

// channelOffset is the Bot API convention for channel and supergroup IDs.
const channelOffset = 1000000000000

// PeerID maps a peer to the signed chat ID used across the bot: users are
// positive, basic groups negative and channels below -10^12.
func PeerID(p tg.PeerClass) int64 {
	switch p := p.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -(channelOffset + p.ChannelID)
	default:
		return 0
	}
}

type Peers struct {
	mu   sync.RWMutex
	data map[int64]tg.InputPeerClass
}

func NewPeers() *Peers {
	return &Peers{data: make(map[int64]tg.InputPeerClass)}
}

func (c *Peers) Get(id int64) (tg.InputPeerClass, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data[id]
	return p, ok
}

func (c *Peers) Set(id int64, peer tg.InputPeerClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = peer
}

func (c *Peers) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Learn resolves peer against the update's entities and remembers it, along
// with every user in the entities.
func (c *Peers) Learn(e tg.Entities, peer tg.PeerClass) (int64, tg.InputPeerClass, error) {
	input, err := Resolve(peer, e)
	if err != nil {
		return 0, nil, err
	}
	id := PeerID(peer)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = input
	for _, u := range e.Users {
		if _, ok := c.data[u.ID]; !ok {
			c.data[u.ID] = &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash}
		}
	}
	return id, input, nil
}

// Resolve converts a PeerClass to an InputPeerClass using the provided entities.
func Resolve(peer tg.PeerClass, entities tg.Entities) (tg.InputPeerClass, error) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		user, ok := entities.Users[p.UserID]
		if !ok {
			return nil, fmt.Errorf("user %d not found in entities", p.UserID)
		}
		return &tg.InputPeerUser{
			UserID:     user.ID,
			AccessHash: user.AccessHash,
		}, nil
	case *tg.PeerChat:
		chat, ok := entities.Chats[p.ChatID]
		if !ok {
			return nil, fmt.Errorf("chat %d not found in entities", p.ChatID)
		}
		return &tg.InputPeerChat{
			ChatID: chat.ID,
		}, nil
	case *tg.PeerChannel:
		channel, ok := entities.Channels[p.ChannelID]
		if !ok {
			return nil, fmt.Errorf("channel %d not found in entities", p.ChannelID)
		}
		return &tg.InputPeerChannel{
			ChannelID:  channel.ID,
			AccessHash: channel.AccessHash,
		}, nil
	default:
		return nil, fmt.Errorf("unknown peer type: %T", peer)
	}
}
