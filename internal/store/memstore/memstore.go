// Package memstore is an in-memory store.Gateway used by DB_DRIVER=memory and by tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	users    map[uint]models.User
	convs    map[uint]models.Conversation
	members  map[uint][]uint
	pairKeys map[string]uint
	messages []models.Message
	nextUser uint
	nextConv uint
	nextMsg  uint
}

func New() *Store {
	return &Store{
		users:    make(map[uint]models.User),
		convs:    make(map[uint]models.Conversation),
		members:  make(map[uint][]uint),
		pairKeys: make(map[string]uint),
	}
}

var _ store.Gateway = (*Store)(nil)

// AddUser inserts a user and returns it with its assigned id.
func (s *Store) AddUser(u models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return models.User{}, store.ErrDuplicate
		}
	}
	s.nextUser++
	u.ID = s.nextUser
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	u.CreatedAt = time.Now()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	created, err := s.AddUser(*u)
	if err != nil {
		return err
	}
	*u = created
	return nil
}

// CountConversations returns how many conversations of kind exist.
func (s *Store) CountConversations(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.convs {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(ctx context.Context, exceptID uint) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for id, u := range s.users {
		if id != exceptID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) FindAdminUser(ctx context.Context) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var admin *models.User
	for _, u := range s.users {
		if u.Role != models.RoleAdmin {
			continue
		}
		if admin == nil || u.ID < admin.ID {
			u := u
			admin = &u
		}
	}
	if admin == nil {
		return nil, store.ErrNotFound
	}
	return admin, nil
}

func (s *Store) isMemberLocked(convID, userID uint) bool {
	for _, m := range s.members[convID] {
		if m == userID {
			return true
		}
	}
	return false
}

func (s *Store) findLocked(kind string, users ...uint) (uint, error) {
	var found uint
	for id, c := range s.convs {
		if c.Kind != kind {
			continue
		}
		match := true
		for _, u := range users {
			if !s.isMemberLocked(id, u) {
				match = false
				break
			}
		}
		if match && (found == 0 || id < found) {
			found = id
		}
	}
	if found == 0 {
		return 0, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) FindDirectConversation(ctx context.Context, userA, userB uint) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(models.KindDirect, userA, userB)
}

func (s *Store) FindSupportConversation(ctx context.Context, userID uint) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(models.KindSupport, userID)
}

func (s *Store) CreateConversation(ctx context.Context, nc store.NewConversation) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if nc.PairKey != "" {
		if _, taken := s.pairKeys[nc.PairKey]; taken {
			return 0, store.ErrDuplicate
		}
	}
	s.nextConv++
	conv := models.Conversation{ID: s.nextConv, Kind: nc.Kind, Title: nc.Title, CreatedAt: time.Now()}
	if nc.PairKey != "" {
		key := nc.PairKey
		conv.PairKey = &key
		s.pairKeys[key] = conv.ID
	}
	s.convs[conv.ID] = conv
	s.members[conv.ID] = append([]uint(nil), nc.Members...)
	if nc.Welcome != nil {
		w := *nc.Welcome
		w.ConversationID = conv.ID
		s.insertLocked(w)
	}
	return conv.ID, nil
}

func (s *Store) IsMember(ctx context.Context, conversationID, userID uint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isMemberLocked(conversationID, userID), nil
}

func (s *Store) ListConversationIDs(ctx context.Context, userID uint) ([]uint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint
	for id := range s.convs {
		if s.isMemberLocked(id, userID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) GetCounterpart(ctx context.Context, conversationID, userID uint) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members[conversationID] {
		if m == userID {
			continue
		}
		if u, ok := s.users[m]; ok {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) insertLocked(m store.NewMessage) uint {
	s.nextMsg++
	msg := models.Message{
		ID:             s.nextMsg,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           m.Type,
		Content:        m.Content,
		CreatedAt:      time.Now(),
	}
	if m.Attachment != nil {
		msg.FileName = m.Attachment.Name
		msg.FilePath = m.Attachment.Path
	}
	s.messages = append(s.messages, msg)
	return msg.ID
}

func (s *Store) InsertMessage(ctx context.Context, m store.NewMessage) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[m.ConversationID]; !ok {
		return 0, store.ErrNotFound
	}
	return s.insertLocked(m), nil
}

func (s *Store) viewLocked(m models.Message) models.MessageView {
	return models.MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     s.users[m.SenderID].Name,
		Type:           m.Type,
		Content:        m.Content,
		FileName:       m.FileName,
		FilePath:       m.FilePath,
		CreatedAt:      m.CreatedAt,
		ReadAt:         m.ReadAt,
	}
}

func (s *Store) GetMessageWithSender(ctx context.Context, id uint) (*models.MessageView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			v := s.viewLocked(m)
			return &v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListMessages(ctx context.Context, conversationID uint, limit int, beforeID uint) ([]models.MessageView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MessageView
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.ConversationID != conversationID || (beforeID > 0 && m.ID >= beforeID) {
			continue
		}
		out = append(out, s.viewLocked(m))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, conversationID, readerID uint, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID == conversationID && m.SenderID != readerID && m.ReadAt == nil {
			stamp := at
			m.ReadAt = &stamp
			n++
		}
	}
	return n, nil
}

func (s *Store) GetLatestMessageAndUnread(ctx context.Context, conversationID, userID uint) (store.Latest, error) {
	if err := ctx.Err(); err != nil {
		return store.Latest{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out store.Latest
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ConversationID != conversationID {
			continue
		}
		if out.At == nil {
			at := m.CreatedAt
			out.At = &at
			out.Preview = store.Preview(m.Type, m.Content, m.FileName)
		}
		if m.SenderID != userID && m.ReadAt == nil {
			out.Unread++
		}
	}
	return out, nil
}
