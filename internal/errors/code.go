package errors

import (
	"fmt"
	"strconv"

	"github.com/go-kratos/kratos/v2/errors"
)

// Credit Service 错误原因定义
// HTTP 状态码随错误返回给调用方，Reason 作为稳定的机器可读标识
const (
	// ReasonInsufficientCredits 可用积分不足，调用方应引导用户充值
	ReasonInsufficientCredits = "INSUFFICIENT_CREDITS"
	// ReasonVersionConflict 余额投影版本冲突，需从头重试
	ReasonVersionConflict = "VERSION_CONFLICT"
	// ReasonGrantMutationRace 扣费计划执行时发现 grant 已被并发消耗
	ReasonGrantMutationRace = "GRANT_MUTATION_RACE"
	// ReasonAccountNotFound 账户余额投影不存在
	ReasonAccountNotFound = "ACCOUNT_NOT_FOUND"
	// ReasonOrganizationMirrorMissing 组织镜像余额不存在（仅记录日志）
	ReasonOrganizationMirrorMissing = "ORGANIZATION_MIRROR_MISSING"
	// ReasonUnknownAction 计费动作没有价格配置
	ReasonUnknownAction = "UNKNOWN_ACTION"
	// ReasonInvalidArgument 参数校验失败
	ReasonInvalidArgument = "INVALID_ARGUMENT"
	// ReasonIdempotencyKeyMismatch 幂等 key 已被另一类操作占用
	ReasonIdempotencyKeyMismatch = "IDEMPOTENCY_KEY_MISMATCH"
	// ReasonDeductLockFailed 获取扣费锁失败
	ReasonDeductLockFailed = "DEDUCT_LOCK_FAILED"
)

// InsufficientCredits 可用积分不足
func InsufficientCredits(required, available int64) *errors.Error {
	return errors.New(402, ReasonInsufficientCredits,
		fmt.Sprintf("insufficient credits: required %d, available %d", required, available)).
		WithMetadata(map[string]string{
			"required":  strconv.FormatInt(required, 10),
			"available": strconv.FormatInt(available, 10),
		})
}

// VersionConflict 余额投影 CAS 失败
func VersionConflict(accountID string) *errors.Error {
	return errors.New(409, ReasonVersionConflict, "balance version conflict").
		WithMetadata(map[string]string{"account_id": accountID})
}

// GrantMutationRace grant 在计划与提交之间被并发修改
func GrantMutationRace(grantID string) *errors.Error {
	return errors.New(409, ReasonGrantMutationRace, "credit grant changed since deduction was planned").
		WithMetadata(map[string]string{"grant_id": grantID})
}

// AccountNotFound 账户不存在
func AccountNotFound(accountID string) *errors.Error {
	return errors.New(404, ReasonAccountNotFound, "credit account not found").
		WithMetadata(map[string]string{"account_id": accountID})
}

// OrganizationMirrorMissing 组织镜像余额不存在
func OrganizationMirrorMissing(orgID string) *errors.Error {
	return errors.New(404, ReasonOrganizationMirrorMissing, "organization balance mirror not found").
		WithMetadata(map[string]string{"org_id": orgID})
}

// UnknownAction 未配置价格的动作
func UnknownAction(actionKey string) *errors.Error {
	return errors.New(400, ReasonUnknownAction, "no price configured for action").
		WithMetadata(map[string]string{"action_key": actionKey})
}

// InvalidArgument 参数错误
func InvalidArgument(format string, args ...any) *errors.Error {
	return errors.New(400, ReasonInvalidArgument, fmt.Sprintf(format, args...))
}

// IdempotencyKeyMismatch 幂等 key 已被不同类型的流水使用
func IdempotencyKeyMismatch(key string) *errors.Error {
	return errors.New(409, ReasonIdempotencyKeyMismatch, "idempotency key already used by a different operation").
		WithMetadata(map[string]string{"idempotency_key": key})
}

// DeductLockFailed 获取分布式锁失败
func DeductLockFailed(key string, cause error) *errors.Error {
	return errors.New(503, ReasonDeductLockFailed, "failed to acquire deduction lock").
		WithMetadata(map[string]string{"lock_key": key}).
		WithCause(cause)
}

func IsInsufficientCredits(err error) bool {
	return errors.Reason(err) == ReasonInsufficientCredits
}

func IsVersionConflict(err error) bool {
	return errors.Reason(err) == ReasonVersionConflict
}

func IsGrantMutationRace(err error) bool {
	return errors.Reason(err) == ReasonGrantMutationRace
}

func IsAccountNotFound(err error) bool {
	return errors.Reason(err) == ReasonAccountNotFound
}

func IsOrganizationMirrorMissing(err error) bool {
	return errors.Reason(err) == ReasonOrganizationMirrorMissing
}

func IsUnknownAction(err error) bool {
	return errors.Reason(err) == ReasonUnknownAction
}

func IsInvalidArgument(err error) bool {
	return errors.Reason(err) == ReasonInvalidArgument
}

func IsDeductLockFailed(err error) bool {
	return errors.Reason(err) == ReasonDeductLockFailed
}

func IsIdempotencyKeyMismatch(err error) bool {
	return errors.Reason(err) == ReasonIdempotencyKeyMismatch
}

// IsRetryable 冲突类错误：整个操作可以从头重试
func IsRetryable(err error) bool {
	return IsVersionConflict(err) || IsGrantMutationRace(err)
}

// InsufficientDetail 取出 InsufficientCredits 携带的 required / available
func InsufficientDetail(err error) (required, available int64, ok bool) {
	e := errors.FromError(err)
	if e == nil || e.Reason != ReasonInsufficientCredits {
		return 0, 0, false
	}
	required, _ = strconv.ParseInt(e.Metadata["required"], 10, 64)
	available, _ = strconv.ParseInt(e.Metadata["available"], 10, 64)
	return required, available, true
}
