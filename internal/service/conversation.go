package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/metrics"
	"github.com/PedroFSampaio/chat-interno/internal/models"
	"github.com/PedroFSampaio/chat-interno/internal/store"

	"github.com/rs/zerolog/log"
)

const DefaultSupportWelcome = "Welcome to Support! 👋\n\n" +
	"This is a dedicated channel for reporting bugs, requesting improvements and asking questions.\n\n" +
	"Please describe your problem or suggestion clearly and in detail.\n\n" +
	"Support Team"

func directKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b)
}

func supportKey(userID uint) string { return fmt.Sprintf("support:%d", userID) }

// ConversationService 负责按需查找或创建两人会话。
// 查找-创建在进程内按成员对串行化，跨进程由 PairKey 唯一约束兜底。
// locks 只承载成员对 key；会话 key 由 SummaryService 统一加锁。
type ConversationService struct {
	store     store.Gateway
	summaries *SummaryService
	locks     *keyedMutex
	timeout   time.Duration
	welcome   string
}

func NewConversationService(st store.Gateway, summaries *SummaryService, timeout time.Duration, welcome string) *ConversationService {
	if welcome == "" {
		welcome = DefaultSupportWelcome
	}
	return &ConversationService{store: st, summaries: summaries, locks: newKeyedMutex(), timeout: timeout, welcome: welcome}
}

// Authorize 校验用户是会话成员。
func (s *ConversationService) Authorize(ctx context.Context, userID, conversationID uint) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return authorize(ctx, s.store, userID, conversationID)
}

func authorize(ctx context.Context, st store.Gateway, userID, conversationID uint) error {
	ok, err := st.IsMember(ctx, conversationID, userID)
	if err != nil {
		return storeErr(ctx, err)
	}
	if !ok {
		return ErrAuthorization
	}
	return nil
}

func (s *ConversationService) ResolveOrCreateDirect(ctx context.Context, userID, otherUserID uint) (uint, error) {
	if userID == otherUserID {
		return 0, ErrSelfConversation
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	other, err := s.store.GetUser(ctx, otherUserID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, storeErr(ctx, err)
	}

	key := directKey(userID, otherUserID)
	unlock := s.locks.Lock(key)
	defer unlock()

	id, err := s.store.FindDirectConversation(ctx, userID, otherUserID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, storeErr(ctx, err)
	}

	id, err = s.store.CreateConversation(ctx, store.NewConversation{
		Kind:    models.KindDirect,
		Title:   "DM with " + other.Name,
		PairKey: key,
		Members: []uint{userID, otherUserID},
	})
	if errors.Is(err, store.ErrDuplicate) {
		// 另一个节点抢先创建了同一对会话。
		if id, err = s.store.FindDirectConversation(ctx, userID, otherUserID); err != nil {
			return 0, storeErr(ctx, err)
		}
		return id, nil
	}
	if err != nil {
		return 0, storeErr(ctx, err)
	}
	metrics.ConversationsCreated.WithLabelValues(models.KindDirect).Inc()
	log.Info().Uint("conversation_id", id).Uint("user_id", userID).Uint("other_user_id", otherUserID).Msg("dm conversation created")
	return id, nil
}

// ResolveOrCreateSupport 返回用户唯一的支持会话；首次创建时附带管理员署名的欢迎消息。
func (s *ConversationService) ResolveOrCreateSupport(ctx context.Context, userID uint) (uint, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	admin, err := s.store.FindAdminUser(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, ErrNoAdminAvailable
	}
	if err != nil {
		return 0, false, storeErr(ctx, err)
	}
	if admin.ID == userID {
		return 0, false, fmt.Errorf("%w: the support admin cannot open a support conversation", ErrInvalidOperation)
	}

	id, created, err := s.resolveSupport(ctx, userID, admin.ID)
	if err != nil || !created {
		return id, false, err
	}

	metrics.ConversationsCreated.WithLabelValues(models.KindSupport).Inc()
	log.Info().Uint("conversation_id", id).Uint("user_id", userID).Uint("admin_id", admin.ID).Msg("support conversation created")

	// 与 MessageService 共用会话锁，新会话上的首条消息不会被旧摘要覆盖。
	unlock := s.summaries.lockConversation(id)
	defer unlock()
	for _, uid := range []uint{userID, admin.ID} {
		if _, err := s.summaries.Recompute(ctx, uid, id); err != nil {
			log.Error().Err(err).Uint("user_id", uid).Uint("conversation_id", id).Msg("recompute summary")
		}
	}
	return id, true, nil
}

func (s *ConversationService) resolveSupport(ctx context.Context, userID, adminID uint) (uint, bool, error) {
	key := supportKey(userID)
	unlock := s.locks.Lock(key)
	defer unlock()

	id, err := s.store.FindSupportConversation(ctx, userID)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, false, storeErr(ctx, err)
	}

	id, err = s.store.CreateConversation(ctx, store.NewConversation{
		Kind:    models.KindSupport,
		Title:   "Support",
		PairKey: key,
		Members: []uint{userID, adminID},
		Welcome: &store.NewMessage{SenderID: adminID, Type: models.MessageText, Content: s.welcome},
	})
	if errors.Is(err, store.ErrDuplicate) {
		if id, err = s.store.FindSupportConversation(ctx, userID); err != nil {
			return 0, false, storeErr(ctx, err)
		}
		return id, false, nil
	}
	if err != nil {
		return 0, false, storeErr(ctx, err)
	}
	return id, true, nil
}
