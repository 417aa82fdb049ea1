package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/metrics"
	"github.com/PedroFSampaio/chat-interno/internal/store"
)

const unknownCounterpart = "Unknown"

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// SummaryService 每次变更后按需重算会话摘要，而不是维护增量计数器。
// 会话锁表由它持有，所有会改变会话摘要的服务共用同一张表。
type SummaryService struct {
	store   store.Gateway
	fan     Fanout
	timeout time.Duration
	convs   *keyedMutex
}

func NewSummaryService(st store.Gateway, fan Fanout, timeout time.Duration) *SummaryService {
	return &SummaryService{store: st, fan: fan, timeout: timeout, convs: newKeyedMutex()}
}

func conversationKey(id uint) string { return fmt.Sprintf("conversation:%d", id) }

// lockConversation 串行化同一会话的写入、广播与摘要重算。
func (s *SummaryService) lockConversation(id uint) (unlock func()) {
	return s.convs.Lock(conversationKey(id))
}

// Summarize 读取最新消息、未读数与对方显示名，不做任何推送。
func (s *SummaryService) Summarize(ctx context.Context, userID, conversationID uint) (ConversationSummary, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	latest, err := s.store.GetLatestMessageAndUnread(ctx, conversationID, userID)
	if err != nil {
		return ConversationSummary{}, storeErr(ctx, err)
	}
	name := unknownCounterpart
	other, err := s.store.GetCounterpart(ctx, conversationID, userID)
	switch {
	case err == nil:
		name = other.Name
	case !errors.Is(err, store.ErrNotFound):
		return ConversationSummary{}, storeErr(ctx, err)
	}
	return ConversationSummary{
		ID:          conversationID,
		Name:        name,
		LastMessage: latest.Preview,
		LastAt:      latest.At,
		Unread:      latest.Unread,
	}, nil
}

// Recompute 重算摘要并仅推送给 userID 本人；读取失败时不推送。
func (s *SummaryService) Recompute(ctx context.Context, userID, conversationID uint) (ConversationSummary, error) {
	sum, err := s.Summarize(ctx, userID, conversationID)
	if err != nil {
		return ConversationSummary{}, err
	}
	s.fan.BroadcastToUser(userID, ConversationUpsert{ConversationSummary: sum})
	metrics.SummaryPushes.Inc()
	return sum, nil
}

// List 返回用户参与的全部会话摘要，按最近活动倒序。
func (s *SummaryService) List(ctx context.Context, userID uint) ([]ConversationSummary, error) {
	lctx, cancel := withTimeout(ctx, s.timeout)
	ids, err := s.store.ListConversationIDs(lctx, userID)
	if err != nil {
		err = storeErr(lctx, err)
		cancel()
		return nil, err
	}
	cancel()

	out := make([]ConversationSummary, 0, len(ids))
	for _, id := range ids {
		sum, err := s.Summarize(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastAt, out[j].LastAt
		switch {
		case a == nil && b == nil:
			return out[i].ID > out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return out[i].ID > out[j].ID
		}
		return a.After(*b)
	})
	return out, nil
}
