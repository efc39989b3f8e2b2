package stressor

import (
	"errors"
	"fmt"

	"kvs-bench/internal/operation"
)

var (
	// ErrTransactionOpen はトランザクション中の StartTransaction で返される
	ErrTransactionOpen = errors.New("transaction already open")
	// ErrNoTransaction はトランザクション外の Commit/Rollback で返される
	ErrNoTransaction = errors.New("no transaction open")
	// ErrEmptyConversation はステップのない会話で返される
	ErrEmptyConversation = errors.New("conversation has no steps")
	// ErrExitOnFailure は ExitOnFailure 設定で失敗した場合に返される
	ErrExitOnFailure = errors.New("exit on failure")
)

// BusinessFault は計測対象の操作自体が失敗したことを表す
type BusinessFault struct {
	Op  operation.Operation
	Err error
}

func (e *BusinessFault) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *BusinessFault) Unwrap() error {
	return e.Err
}

// MechanicalFailure はトランザクション制御の失敗を表す
type MechanicalFailure struct {
	Op  operation.Operation
	Err error
}

func (e *MechanicalFailure) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *MechanicalFailure) Unwrap() error {
	return e.Err
}

// ContractViolation は呼び出し規約違反を表す（ストレッサーを停止する）
type ContractViolation struct {
	Err error
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation: %v", e.Err)
}

func (e *ContractViolation) Unwrap() error {
	return e.Err
}
