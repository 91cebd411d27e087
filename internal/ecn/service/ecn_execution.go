package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ecn/internal/ecn/entity"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/event"
	"github.com/bitfantasy/nimo-ecn/internal/ecn/workflow"
	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

// StartExecution 开始执行；没有任务时按评估部门生成默认任务
func (s *ECNService) StartExecution(ctx context.Context, noticeID, actorID string) (*entity.ChangeNotice, error) {
	return s.mutate(ctx, string(workflow.ActionStartExecution), noticeID, actorID, func(ctx context.Context, m *mutation) error {
		if err := m.transition(workflow.ActionStartExecution, ""); err != nil {
			return err
		}
		m.notice.ExecutionStartedAt = &m.now

		existing, err := s.repos.Task.ListByNotice(ctx, m.notice.ID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		if len(existing) == 0 {
			if err := s.generateDefaultTasks(ctx, m); err != nil {
				return err
			}
		}

		m.emit(m.event(event.ExecutionStarted).
			To(m.notice.ApplicantID).
			Message("ECN开始执行", fmt.Sprintf("%s %s 已进入执行阶段", m.notice.Code, m.notice.Title)))
		return nil
	})
}

// generateDefaultTasks 每个评估部门生成一个执行任务
func (s *ECNService) generateDefaultTasks(ctx context.Context, m *mutation) error {
	evals, err := s.repos.Evaluation.ListByNotice(ctx, m.notice.ID)
	if err != nil {
		return fmt.Errorf("list evaluations: %w", err)
	}

	var plannedEnd *time.Time
	if m.notice.ScheduleImpact > 0 {
		end := m.now.AddDate(0, 0, m.notice.ScheduleImpact)
		plannedEnd = &end
	}

	for _, ev := range evals {
		assignee, _, err := s.resolver.Resolve(ctx, DepartmentScope(ev.Department), projectOf(m.notice))
		if err != nil {
			return fmt.Errorf("resolve assignee: %w", err)
		}
		task := &entity.ExecutionTask{
			NoticeID:     m.notice.ID,
			Title:        fmt.Sprintf("%s执行变更 %s", ev.Department, m.notice.Code),
			Description:  ev.ImpactAnalysis,
			Department:   ev.Department,
			AssigneeID:   assignee,
			PlannedStart: &m.now,
			PlannedEnd:   plannedEnd,
		}
		if err := s.insertTask(ctx, m, task); err != nil {
			return err
		}
	}
	return nil
}

func (s *ECNService) insertTask(ctx context.Context, m *mutation, task *entity.ExecutionTask) error {
	no, err := s.repos.Task.NextTaskNo(ctx, m.notice.ID)
	if err != nil {
		return fmt.Errorf("next task no: %w", err)
	}
	task.ID = entity.NewID()
	task.TaskNo = no
	task.Status = entity.TaskStatusPending
	task.CreatedAt = m.now
	task.UpdatedAt = m.now
	if err := s.repos.Task.Create(ctx, task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	body := fmt.Sprintf("%s 执行任务 #%d：%s", m.notice.Code, task.TaskNo, task.Title)
	if task.AssigneeID == "" {
		body += "（未能自动分配负责人，请指定）"
	}
	m.emit(m.event(event.TaskCreated).
		To(m.orApplicant(task.AssigneeID)).
		Message("ECN执行任务", body).
		With("task_id", task.ID).
		With("task_no", task.TaskNo))
	return nil
}

// CreateTaskRequest 创建执行任务请求
type CreateTaskRequest struct {
	Title        string     `json:"title" binding:"required"`
	Description  string     `json:"description"`
	Department   string     `json:"department"`
	AssigneeID   string     `json:"assignee_id"`
	PlannedStart *time.Time `json:"planned_start"`
	PlannedEnd   *time.Time `json:"planned_end"`
}

// CreateTask 创建执行任务，序号在ECN内单调递增
func (s *ECNService) CreateTask(ctx context.Context, noticeID, actorID string, req *CreateTaskRequest) (*entity.ExecutionTask, error) {
	if req.Title == "" {
		return nil, apperr.InvalidArgument("任务标题不能为空")
	}
	if req.PlannedStart != nil && req.PlannedEnd != nil && req.PlannedEnd.Before(*req.PlannedStart) {
		return nil, apperr.InvalidArgument("计划完成时间早于计划开始时间")
	}

	var created *entity.ExecutionTask
	_, err := s.mutate(ctx, "create_task", noticeID, actorID, func(ctx context.Context, m *mutation) error {
		if m.notice.Status != workflow.StatusApproved && m.notice.Status != workflow.StatusExecuting {
			return apperr.Precondition("ECN当前状态为 %s，创建执行任务需要状态为 APPROVED/EXECUTING", m.notice.Status)
		}

		assignee := req.AssigneeID
		if assignee != "" {
			if _, err := s.repos.Directory.FindUser(ctx, assignee); err != nil {
				return notFoundAs(err, "User", assignee)
			}
		} else if req.Department != "" {
			id, _, err := s.resolver.Resolve(ctx, DepartmentScope(req.Department), projectOf(m.notice))
			if err != nil {
				return fmt.Errorf("resolve assignee: %w", err)
			}
			assignee = id
		}

		task := &entity.ExecutionTask{
			NoticeID:     m.notice.ID,
			Title:        req.Title,
			Description:  req.Description,
			Department:   req.Department,
			AssigneeID:   assignee,
			PlannedStart: req.PlannedStart,
			PlannedEnd:   req.PlannedEnd,
		}
		if err := s.insertTask(ctx, m, task); err != nil {
			return err
		}
		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateTaskProgressRequest 更新任务进度请求
type UpdateTaskProgressRequest struct {
	Progress int    `json:"progress"`
	Remark   string `json:"remark"`
}

// UpdateTaskProgress 更新任务进度
// 进度100强制完成任务；最后一个任务完成时执行中的ECN自动完成
func (s *ECNService) UpdateTaskProgress(ctx context.Context, taskID, actorID string, req *UpdateTaskProgressRequest) (*entity.ExecutionTask, error) {
	if req.Progress < 0 || req.Progress > 100 {
		return nil, apperr.InvalidArgument("进度必须在 0 到 100 之间")
	}
	task, err := s.repos.Task.FindByID(ctx, taskID)
	if err != nil {
		return nil, notFoundAs(err, "ExecutionTask", taskID)
	}

	_, err = s.mutate(ctx, "update_task_progress", task.NoticeID, actorID, func(ctx context.Context, m *mutation) error {
		current, err := s.repos.Task.FindByID(ctx, taskID)
		if err != nil {
			return notFoundAs(err, "ExecutionTask", taskID)
		}
		task = current

		switch m.notice.Status {
		case workflow.StatusApproved, workflow.StatusExecuting, workflow.StatusPendingVerify:
		default:
			return apperr.Precondition("ECN当前状态为 %s，不能更新执行任务", m.notice.Status)
		}
		if task.Status == entity.TaskStatusCompleted {
			return apperr.Precondition("任务 #%d 已完成", task.TaskNo)
		}

		task.Progress = req.Progress
		if req.Remark != "" {
			task.Remark = req.Remark
		}
		if req.Progress > 0 {
			task.Status = entity.TaskStatusInProgress
			if task.ActualStart == nil {
				task.ActualStart = &m.now
			}
		}
		if req.Progress == 100 {
			task.Status = entity.TaskStatusCompleted
			task.ActualEnd = &m.now
		}
		task.UpdatedAt = m.now
		if err := s.repos.Task.Update(ctx, task); err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		if task.Status != entity.TaskStatusCompleted {
			return nil
		}
		m.emit(m.event(event.TaskCompleted).
			To(m.notice.ApplicantID).
			Message("ECN执行任务完成", fmt.Sprintf("%s 执行任务 #%d %s 已完成", m.notice.Code, task.TaskNo, task.Title)).
			With("task_id", task.ID))

		if m.notice.Status != workflow.StatusExecuting {
			return nil
		}
		unfinished, err := s.repos.Task.CountUnfinished(ctx, m.notice.ID)
		if err != nil {
			return fmt.Errorf("count unfinished tasks: %w", err)
		}
		if unfinished > 0 {
			return nil
		}
		if err := m.transition(workflow.ActionCompleteExecution, "全部执行任务已完成"); err != nil {
			return err
		}
		m.notice.CompletedAt = &m.now
		m.emit(m.event(event.NoticeCompleted).
			To(m.notice.ApplicantID).
			Message("ECN执行完成", fmt.Sprintf("%s %s 全部执行任务已完成", m.notice.Code, m.notice.Title)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// VerifyRequest 验证请求
type VerifyRequest struct {
	Result string `json:"result" binding:"required"`
	Note   string `json:"note"`
}

// Verify 验证执行结果；PASS 完成，FAIL 进入待验证
func (s *ECNService) Verify(ctx context.Context, noticeID, actorID string, req *VerifyRequest) (*entity.ChangeNotice, error) {
	var action workflow.Action
	switch req.Result {
	case entity.VerifyPass:
		action = workflow.ActionVerifyPass
	case entity.VerifyFail:
		action = workflow.ActionVerifyFail
	default:
		return nil, apperr.InvalidArgument("验证结论必须是 PASS 或 FAIL")
	}

	return s.mutate(ctx, "verify", noticeID, actorID, func(ctx context.Context, m *mutation) error {
		if m.notice.Status != workflow.StatusExecuting {
			return apperr.Precondition("ECN当前状态为 %s，验证需要状态为 %s", m.notice.Status, workflow.StatusExecuting)
		}
		unfinished, err := s.repos.Task.CountUnfinished(ctx, m.notice.ID)
		if err != nil {
			return fmt.Errorf("count unfinished tasks: %w", err)
		}
		if unfinished > 0 {
			return apperr.Precondition("仍有 %d 个执行任务未完成", unfinished)
		}

		if err := m.transition(action, req.Note); err != nil {
			return err
		}
		m.notice.VerifyResult = req.Result
		if req.Result == entity.VerifyPass {
			m.notice.CompletedAt = &m.now
		}
		m.emit(m.event(event.NoticeVerified).
			To(m.notice.ApplicantID).
			Message("ECN验证结果", fmt.Sprintf("%s %s 验证结论：%s", m.notice.Code, m.notice.Title, req.Result)).
			With("result", req.Result))
		return nil
	})
}

// Rework 验证不通过后重新执行
func (s *ECNService) Rework(ctx context.Context, noticeID, actorID, note string) (*entity.ChangeNotice, error) {
	return s.mutate(ctx, string(workflow.ActionRework), noticeID, actorID, func(ctx context.Context, m *mutation) error {
		if err := m.transition(workflow.ActionRework, note); err != nil {
			return err
		}
		m.notice.VerifyResult = ""
		m.emit(m.event(event.ExecutionStarted).
			To(m.notice.ApplicantID).
			Message("ECN重新执行", fmt.Sprintf("%s %s 验证未通过，重新进入执行", m.notice.Code, m.notice.Title)))
		return nil
	})
}

// ListTasks 获取ECN执行任务
func (s *ECNService) ListTasks(ctx context.Context, noticeID string) ([]entity.ExecutionTask, error) {
	if _, err := s.repos.Notice.FindByID(ctx, noticeID); err != nil {
		return nil, notFoundAs(err, "ECN", noticeID)
	}
	return s.repos.Task.ListByNotice(ctx, noticeID)
}
