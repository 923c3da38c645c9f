package core

import (
	"context"
	"time"
)

// Feedback 是用户对助手的反馈
type Feedback struct {
	ID        string    `json:"_id" bson:"_id"`
	Content   string    `json:"content" bson:"content"`
	Rating    *int      `json:"rating" bson:"rating"`
	Source    string    `json:"source" bson:"source"`
	CreatedAt time.Time `json:"timestamp" bson:"timestamp"`
}

// FeedbackStore 只追加的反馈存储
type FeedbackStore interface {
	InsertFeedback(ctx context.Context, f *Feedback) error
}
