package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ecn/internal/config"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/metrics"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/repository"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/workflow"
)

// 逾期类型
const (
	AlertEvaluation = "evaluation"
	AlertApproval   = "approval"
	AlertTask       = "task"
)

// Alert 逾期告警，不落库
type Alert struct {
	Kind        string `json:"kind"`
	NoticeID    string `json:"notice_id"`
	NoticeCode  string `json:"notice_code"`
	TargetID    string `json:"target_id"`
	RecipientID string `json:"recipient_id"`
	OverdueDays int    `json:"overdue_days"`
	Message     string `json:"message"`
}

// SweepResult 一次扫描的结果
type SweepResult struct {
	StartedAt       time.Time `json:"started_at"`
	Alerts          []Alert   `json:"alerts"`
	Evaluations     int       `json:"evaluations"`
	Approvals       int       `json:"approvals"`
	Tasks           int       `json:"tasks"`
	MarkedOverdue   int64     `json:"marked_overdue"`
	SkippedInactive int       `json:"skipped_inactive"`
}

// OverdueSweeper 逾期扫描
type OverdueSweeper struct {
	repos  *repository.Repositories
	sink   EventSink
	cfg    config.ECNConfig
	logger *zap.Logger
}

// NewOverdueSweeper 创建逾期扫描器
func NewOverdueSweeper(repos *repository.Repositories, sink EventSink, cfg config.ECNConfig, logger *zap.Logger) *OverdueSweeper {
	return &OverdueSweeper{repos: repos, sink: sink, cfg: cfg, logger: logger}
}

// 已结束流程的ECN不再告警
var sweepInactive = map[workflow.Status]bool{
	workflow.StatusRejected:  true,
	workflow.StatusCancelled: true,
	workflow.StatusClosed:    true,
}

// overdueDays 超期天数，向上取整，至少1天
func overdueDays(deadline, now time.Time) int {
	days := int(math.Ceil(now.Sub(deadline).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}

// Run 扫描评估、审批、执行任务的逾期项
// 唯一的写操作是把所有逾期审批的 is_overdue 置为 true，包括已结束流程的ECN
func (s *OverdueSweeper) Run(ctx context.Context, now time.Time) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{StartedAt: now}

	slaDays := s.cfg.EvaluationSLADays
	if slaDays <= 0 {
		slaDays = 3
	}
	sla := time.Duration(slaDays) * 24 * time.Hour

	evals, err := s.repos.Evaluation.ListPendingCreatedBefore(ctx, now.Add(-sla))
	if err != nil {
		return nil, fmt.Errorf("list overdue evaluations: %w", err)
	}
	approvals, err := s.repos.Approval.ListPendingDueBefore(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue approvals: %w", err)
	}
	tasks, err := s.repos.Task.ListOpenPlannedEndBefore(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue tasks: %w", err)
	}

	ids := make([]string, 0, len(evals)+len(approvals)+len(tasks))
	for _, e := range evals {
		ids = append(ids, e.NoticeID)
	}
	for _, a := range approvals {
		ids = append(ids, a.NoticeID)
	}
	for _, t := range tasks {
		ids = append(ids, t.NoticeID)
	}
	notices, err := s.repos.Notice.FindByIDs(ctx, unique(ids))
	if err != nil {
		return nil, fmt.Errorf("load notices: %w", err)
	}

	active := func(noticeID string) *entity.ChangeNotice {
		n, ok := notices[noticeID]
		if !ok || sweepInactive[n.Status] {
			result.SkippedInactive++
			return nil
		}
		return n
	}
	recipient := func(userID string, n *entity.ChangeNotice) string {
		if userID != "" {
			return userID
		}
		return n.ApplicantID
	}

	for _, e := range evals {
		n := active(e.NoticeID)
		if n == nil {
			continue
		}
		days := overdueDays(e.CreatedAt.Add(sla), now)
		result.Evaluations++
		result.Alerts = append(result.Alerts, Alert{
			Kind:        AlertEvaluation,
			NoticeID:    n.ID,
			NoticeCode:  n.Code,
			TargetID:    e.ID,
			RecipientID: recipient(e.EvaluatorID, n),
			OverdueDays: days,
			Message:     fmt.Sprintf("%s 的 %s 评估已逾期 %d 天", n.Code, e.Department, days),
		})
	}

	// 逾期审批一律打标，已结束流程的ECN只是不再告警
	overdueApprovals := make([]string, 0, len(approvals))
	for _, a := range approvals {
		overdueApprovals = append(overdueApprovals, a.ID)
		n := active(a.NoticeID)
		if n == nil {
			continue
		}
		days := overdueDays(a.DueDate, now)
		result.Approvals++
		result.Alerts = append(result.Alerts, Alert{
			Kind:        AlertApproval,
			NoticeID:    n.ID,
			NoticeCode:  n.Code,
			TargetID:    a.ID,
			RecipientID: recipient(a.ApproverID, n),
			OverdueDays: days,
			Message:     fmt.Sprintf("%s 第 %d 级审批（%s）已逾期 %d 天", n.Code, a.ApprovalLevel, a.ApprovalRole, days),
		})
	}

	for _, t := range tasks {
		n := active(t.NoticeID)
		if n == nil {
			continue
		}
		days := overdueDays(*t.PlannedEnd, now)
		result.Tasks++
		result.Alerts = append(result.Alerts, Alert{
			Kind:        AlertTask,
			NoticeID:    n.ID,
			NoticeCode:  n.Code,
			TargetID:    t.ID,
			RecipientID: recipient(t.AssigneeID, n),
			OverdueDays: days,
			Message:     fmt.Sprintf("%s 执行任务 #%d %s 已逾期 %d 天", n.Code, t.TaskNo, t.Title, days),
		})
	}

	marked, err := s.repos.Approval.MarkOverdue(ctx, overdueApprovals)
	if err != nil {
		return nil, fmt.Errorf("mark approvals overdue: %w", err)
	}
	result.MarkedOverdue = marked

	s.notify(ctx, result.Alerts, now)

	metrics.RecordSweep(map[string]int{
		AlertEvaluation: result.Evaluations,
		AlertApproval:   result.Approvals,
		AlertTask:       result.Tasks,
	}, time.Since(start).Seconds())

	s.logger.Info("overdue sweep finished",
		zap.Int("evaluations", result.Evaluations),
		zap.Int("approvals", result.Approvals),
		zap.Int("tasks", result.Tasks),
		zap.Int64("marked_overdue", result.MarkedOverdue),
		zap.Int("skipped", result.SkippedInactive),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (s *OverdueSweeper) notify(ctx context.Context, alerts []Alert, now time.Time) {
	if s.sink == nil || len(alerts) == 0 {
		return
	}
	events := make([]event.Event, 0, len(alerts))
	for _, a := range alerts {
		e := event.New(event.OverdueAlert, a.NoticeID, a.NoticeCode, "").
			To(a.RecipientID).
			Urgent().
			Message("ECN逾期提醒", a.Message).
			With("kind", a.Kind).
			With("target_id", a.TargetID).
			With("overdue_days", a.OverdueDays)
		e.Link = noticeLink(a.NoticeID)
		e.OccurredAt = now
		events = append(events, e)
	}
	s.sink.Dispatch(ctx, events)
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
