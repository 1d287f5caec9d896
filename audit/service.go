package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Skynet2005/MobileGame-sub001/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded by the gateway.
const (
	ActionFriendRequest = "friend_request"
	ActionFriendAccept  = "friend_accept"
	ActionFriendReject  = "friend_reject"
	ActionUnfriend      = "unfriend"
	ActionBlock         = "block"
	ActionUnblock       = "unblock"
	ActionRename        = "rename"
	ActionKick          = "admin_kick"
	ActionAnnounce      = "admin_announce"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry holds one audit event to be logged.
type Entry struct {
	TraceID  string
	CharID   *int64
	TargetID *int64
	Action   string
	Detail   interface{}
	Error    string
}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an entry for async DB write. It never blocks; a full queue
// drops the entry.
func (svc *Service) Log(entry Entry) {
	record := &model.AuditLog{
		TraceID:  entry.TraceID,
		CharID:   entry.CharID,
		TargetID: entry.TargetID,
		Action:   entry.Action,
		Error:    entry.Error,
	}
	if entry.Detail != nil {
		if b, err := json.Marshal(entry.Detail); err == nil {
			record.Detail = datatypes.JSON(b)
		}
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
