// Package mock provides a test double for the Discord messaging API.
package mock

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Sent records one ChannelMessageSend call.
type Sent struct {
	ChannelID string
	Content   string
}

// Edited records one ChannelMessageEdit call.
type Edited struct {
	ChannelID string
	MessageID string
	Content   string
}

// ComplexSent records one ChannelMessageSendComplex call.
type ComplexSent struct {
	ChannelID string
	Data      *discordgo.MessageSend
}

// Messenger records messaging calls and replays configured errors.
type Messenger struct {
	mu sync.Mutex

	Sends     []Sent
	Edits     []Edited
	Complexes []ComplexSent

	// SendErr and EditErr, when non-nil, fail every matching call.
	SendErr error
	EditErr error

	// ComplexErrs is consumed one entry per ChannelMessageSendComplex call;
	// a nil entry means success. Calls past the end succeed.
	ComplexErrs []error

	nextID int
}

// ChannelMessageSend records the call and returns a stub message.
func (m *Messenger) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sends = append(m.Sends, Sent{ChannelID: channelID, Content: content})
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	return m.newMessage(), nil
}

// ChannelMessageEdit records the call.
func (m *Messenger) ChannelMessageEdit(channelID string, messageID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edits = append(m.Edits, Edited{ChannelID: channelID, MessageID: messageID, Content: content})
	if m.EditErr != nil {
		return nil, m.EditErr
	}
	return &discordgo.Message{ID: messageID}, nil
}

// ChannelMessageSendComplex records the call and pops the next configured
// error.
func (m *Messenger) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Complexes = append(m.Complexes, ComplexSent{ChannelID: channelID, Data: data})

	var err error
	if len(m.ComplexErrs) > 0 {
		err = m.ComplexErrs[0]
		m.ComplexErrs = m.ComplexErrs[1:]
	}
	if err != nil {
		return nil, err
	}
	return m.newMessage(), nil
}

// LastComplex returns the most recently recorded complex send, or nil.
func (m *Messenger) LastComplex() *ComplexSent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Complexes) == 0 {
		return nil
	}
	return &m.Complexes[len(m.Complexes)-1]
}

func (m *Messenger) newMessage() *discordgo.Message {
	m.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", m.nextID)}
}
