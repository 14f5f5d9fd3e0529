package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"serotonyl.ru/growstore-bot/internal/common"
)

// ErrBusy - повторы на SQLITE_BUSY/SQLITE_LOCKED исчерпаны.
var ErrBusy = fmt.Errorf("%w: база данных занята", common.ErrTransient)

// IsBusy сообщает, что ошибка - SQLITE_BUSY или SQLITE_LOCKED.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked")
}

// IsConstraint сообщает о нарушении ограничения (UNIQUE, CHECK, FOREIGN KEY).
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return strings.Contains(err.Error(), "constraint failed")
}
