package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/hitoshi/usergate/internal/model"
)

// wrapStoreError はドライバのエラーを分類する。
// 接続断やタイムアウトはSTORE_UNAVAILABLE、それ以外は文脈付きでラップする。
func wrapStoreError(op string, err error) error {
	if isUnavailable(err) {
		return model.NewStoreUnavailableError(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// isUnavailable はストアに到達できないことを示すエラーかどうかを判定する。
func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
