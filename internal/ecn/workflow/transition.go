package workflow

import (
	"strings"

	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

// Action 状态迁移动作
type Action string

const (
	ActionSubmit             Action = "submit"
	ActionBeginEvaluation    Action = "begin_evaluation"
	ActionCompleteEvaluation Action = "complete_evaluation"
	ActionApprove            Action = "approve"
	ActionReject             Action = "reject"
	ActionStartExecution     Action = "start_execution"
	ActionCompleteExecution  Action = "complete_execution"
	ActionVerifyPass         Action = "verify_pass"
	ActionVerifyFail         Action = "verify_fail"
	ActionRework             Action = "rework"
	ActionClose              Action = "close"
	ActionCancel             Action = "cancel"
)

type rule struct {
	from []Status
	to   Status
}

// transitions 迁移表；cancel 单独处理（按排除集定义）
var transitions = map[Action]rule{
	ActionSubmit:             {from: []Status{StatusDraft}, to: StatusSubmitted},
	ActionBeginEvaluation:    {from: []Status{StatusSubmitted}, to: StatusEvaluating},
	ActionCompleteEvaluation: {from: []Status{StatusSubmitted, StatusEvaluating}, to: StatusEvaluated},
	ActionApprove:            {from: []Status{StatusEvaluated}, to: StatusApproved},
	ActionReject:             {from: []Status{StatusEvaluated}, to: StatusRejected},
	ActionStartExecution:     {from: []Status{StatusApproved}, to: StatusExecuting},
	ActionCompleteExecution:  {from: []Status{StatusExecuting}, to: StatusCompleted},
	ActionVerifyPass:         {from: []Status{StatusExecuting}, to: StatusCompleted},
	ActionVerifyFail:         {from: []Status{StatusExecuting}, to: StatusPendingVerify},
	ActionRework:             {from: []Status{StatusPendingVerify}, to: StatusExecuting},
	ActionClose:              {from: []Status{StatusCompleted}, to: StatusClosed},
}

// 不可取消的状态
var nonCancellable = []Status{StatusApproved, StatusExecuting, StatusCompleted, StatusCancelled}

// Transition 根据当前状态和动作计算下一个状态
func Transition(current Status, action Action) (Status, error) {
	if !current.Valid() || current == StatusInApproval {
		return "", apperr.InvalidArgument("未知的ECN状态: %s", current)
	}

	if action == ActionCancel {
		if contains(nonCancellable, current) {
			return "", apperr.Precondition("ECN当前状态为 %s，不允许取消（仅允许在 %s 之外的状态取消）",
				current, joinStatuses(nonCancellable))
		}
		return StatusCancelled, nil
	}

	r, ok := transitions[action]
	if !ok {
		return "", apperr.InvalidArgument("未知的状态迁移动作: %s", action)
	}
	if !contains(r.from, current) {
		return "", apperr.Precondition("ECN当前状态为 %s，执行 %s 需要状态为 %s",
			current, action, joinStatuses(r.from))
	}
	return r.to, nil
}

// Allowed 当前状态下可执行的动作
func Allowed(current Status) []Action {
	var actions []Action
	for _, a := range []Action{
		ActionSubmit, ActionBeginEvaluation, ActionCompleteEvaluation, ActionApprove, ActionReject,
		ActionStartExecution, ActionCompleteExecution, ActionVerifyPass, ActionVerifyFail,
		ActionRework, ActionClose, ActionCancel,
	} {
		if _, err := Transition(current, a); err == nil {
			actions = append(actions, a)
		}
	}
	return actions
}

// IsTerminal 是否终态
func IsTerminal(s Status) bool {
	return s == StatusClosed || s == StatusCancelled
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func joinStatuses(list []Status) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, "/")
}
