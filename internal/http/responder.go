package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/class-scheduler/internal/application"
	"github.com/example/class-scheduler/internal/lock"
)

var (
	errBadRequestBody   = errors.New("無効なリクエスト形式です。")
	errInvalidPathID    = errors.New("無効なリソース ID です。")
	errMissingStaffKey  = errors.New("認証キーを指定してください")
	errTooManyRequests  = errors.New("リクエストが多すぎます。しばらくしてから再度お試しください。")
	errInvalidStaffKey  = errors.New("認証キーが正しくありません")
	errDisabledStaffKey = errors.New("このアカウントは無効化されています")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err, "error_kind", application.ErrorKind(err))
	}
	r.writeJSON(ctx, w, status, body)
}

// errorBody maps a service error to its status code and payload.
func errorBody(err error) (int, errorResponse) {
	var (
		vErr         *application.ValidationError
		capacityErr  *application.CapacityExceededError
		duplicateErr *application.DuplicateEnrollmentError
		balanceErr   *application.InsufficientPackageBalanceError
		belowErr     *application.CapacityBelowEnrollmentError
		transErr     *application.InvalidTransitionError
	)

	switch {
	case errors.Is(err, application.ErrUnauthorized):
		return http.StatusForbidden, errorResponse{
			ErrorCode: "AUTH_FORBIDDEN",
			Message:   "この操作を実行する権限がありません。",
		}
	case errors.Is(err, application.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_INVALID_KEY", Message: errInvalidStaffKey.Error()}
	case errors.Is(err, application.ErrAccountDisabled):
		return http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_ACCOUNT_DISABLED", Message: errDisabledStaffKey.Error()}
	case errors.Is(err, application.ErrNotEnrolled):
		return http.StatusNotFound, errorResponse{ErrorCode: "NOT_ENROLLED", Message: "この会員は受講登録されていません。"}
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, errorResponse{Message: "指定されたリソースが見つかりません。"}
	case errors.Is(err, application.ErrAlreadyExists):
		return http.StatusConflict, errorResponse{ErrorCode: "ALREADY_EXISTS", Message: "指定された ID は既に使用されています。"}
	case errors.Is(err, application.ErrOccurrenceCancelled):
		return http.StatusConflict, errorResponse{ErrorCode: "OCCURRENCE_CANCELLED", Message: "この開催回は中止されています。"}
	case errors.Is(err, lock.ErrLockTimeout):
		return http.StatusServiceUnavailable, errorResponse{ErrorCode: "LOCK_TIMEOUT", Message: "他の処理が実行中です。しばらくしてから再度お試しください。"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorResponse{ErrorCode: "CANCELLED", Message: "処理が中断されました。"}
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, errorResponse{
			Message: "入力内容に誤りがあります。",
			Errors:  localizeValidationErrors(vErr),
		}
	case errors.As(err, &capacityErr):
		return http.StatusConflict, errorResponse{
			ErrorCode: "CAPACITY_EXCEEDED",
			Message:   "この開催回は満席です。",
			Details: map[string]any{
				"occurrence_id": capacityErr.OccurrenceID,
				"capacity":      capacityErr.Capacity,
				"seats_held":    capacityErr.SeatsHeld,
			},
		}
	case errors.As(err, &duplicateErr):
		return http.StatusConflict, errorResponse{
			ErrorCode: "DUPLICATE_ENROLLMENT",
			Message:   "この会員は既に受講登録されています。",
			Details: map[string]any{
				"occurrence_id": duplicateErr.OccurrenceID,
				"member_id":     duplicateErr.MemberID,
				"status":        duplicateErr.Status,
			},
		}
	case errors.As(err, &balanceErr):
		return http.StatusConflict, errorResponse{
			ErrorCode: "INSUFFICIENT_PACKAGE_BALANCE",
			Message:   "パッケージの残り回数がありません。",
			Details: map[string]any{
				"member_id":  balanceErr.MemberID,
				"package_id": balanceErr.PackageID,
				"remaining":  balanceErr.Remaining,
			},
		}
	case errors.As(err, &belowErr):
		return http.StatusConflict, errorResponse{
			ErrorCode: "CAPACITY_BELOW_ENROLLMENT",
			Message:   "定員を受講登録数より少なくすることはできません。",
			Details: map[string]any{
				"occurrence_id":  belowErr.OccurrenceID,
				"sequence_index": belowErr.SequenceIndex,
				"capacity":       belowErr.Capacity,
				"seats_held":     belowErr.SeatsHeld,
			},
		}
	case errors.As(err, &transErr):
		return http.StatusConflict, errorResponse{
			ErrorCode: "INVALID_TRANSITION",
			Message:   "この出欠ステータスには変更できません。",
			Details: map[string]any{
				"from": transErr.From,
				"to":   transErr.To,
			},
		}
	}

	return http.StatusInternalServerError, errorResponse{Message: "サーバー内部でエラーが発生しました。"}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	case http.StatusTooManyRequests:
		return errTooManyRequests.Error()
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

func localizeValidationErrors(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}

	translated := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		translated[field] = translateValidationMessage(msg)
	}
	return translated
}

func translateValidationMessage(message string) string {
	switch message {
	case "class name is required":
		return "クラス名は必須です。"
	case "coach is required":
		return "担当コーチは必須です。"
	case "coach does not exist":
		return "指定されたコーチは存在しません。"
	case "coach is not active":
		return "指定されたコーチは現在無効です。"
	case "capacity must be positive":
		return "定員は正の整数で指定してください。"
	case "duration must be positive":
		return "所要時間は正の整数で指定してください。"
	case "start date time is required":
		return "開始日時は必須です。"
	case "start date time is invalid":
		return "開始日時の形式が不正です。"
	case "schedule type is not supported", "schedule type is invalid":
		return "指定されたスケジュール種別には対応していません。"
	case "recurring interval is required":
		return "繰り返し間隔は必須です。"
	case "recurring interval is not supported", "recurring interval is invalid":
		return "指定された繰り返し間隔には対応していません。"
	case "number of sessions must be positive":
		return "開催回数は正の整数で指定してください。"
	case "occurrence is required":
		return "開催回は必須です。"
	case "member is required":
		return "会員は必須です。"
	case "sessions must be positive":
		return "セッション数は正の整数で指定してください。"
	case "page must be a positive integer":
		return "ページ番号は正の整数で指定してください。"
	case "per page must be a positive integer":
		return "1 ページあたりの件数は正の整数で指定してください。"
	case "name is required":
		return "名前は必須です。"
	case "status must be ATTENDED, NO_SHOW or CANCELLED":
		return "出欠ステータスは ATTENDED、NO_SHOW、CANCELLED のいずれかを指定してください。"
	default:
		if strings.HasPrefix(message, "number of sessions must not exceed") {
			return "開催回数は " + strings.TrimSpace(strings.TrimPrefix(message, "number of sessions must not exceed")) + " 回以下で指定してください。"
		}
		return message
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
}
