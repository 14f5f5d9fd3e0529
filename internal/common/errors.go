// Package common - errors.go определяет ошибки, которые используются во всех модулях бота.
// Ошибки разбиты по видам: ввод пользователя, состояние, временные сбои,
// целостность данных и фатальные. Обработчики взаимодействий по виду ошибки
// решают, что показать пользователю и с каким уровнем логировать.
package common

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// Ошибки ввода - показываются пользователю как есть.
var (
	// ErrInvalidGrowid - GrowID не соответствует формату [A-Za-z0-9_]{3,30}
	ErrInvalidGrowid = errors.New("invalid GrowID: use 3-30 letters, digits or underscore")
	// ErrInvalidQty - количество вне диапазона
	ErrInvalidQty = errors.New("invalid quantity")
	// ErrInvalidAmount - некорректная сумма
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidProductCode - код товара не соответствует формату
	ErrInvalidProductCode = errors.New("invalid product code: use 2-10 letters, digits or underscore")
	// ErrInvalidInput - общая ошибка разбора аргументов команды
	ErrInvalidInput = errors.New("invalid input")
)

// Ошибки состояния.
var (
	ErrNotRegistered       = errors.New("you are not registered, press Register first")
	ErrAlreadyRegistered   = errors.New("you are already registered")
	ErrNotFound            = errors.New("not found")
	ErrExists              = errors.New("already exists")
	ErrOutOfStock          = errors.New("not enough stock")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBlacklisted         = errors.New("you are blacklisted")
	ErrMaintenance         = errors.New("the store is under maintenance, try again later")
	ErrForbidden           = errors.New("you do not have permission to do that")
	ErrSessionRequired     = errors.New("this command requires an admin session, use !login")
	ErrTooManyAttempts     = errors.New("too many login attempts, wait an hour")
	ErrWrongPassword       = errors.New("wrong password")
)

// Временные ошибки - после исчерпания повторов пользователь видит "try again".
var (
	ErrTransient = errors.New("temporary failure, please try again")
	ErrBusy      = errors.New("please wait, your previous action is still running")
)

// Ошибки целостности и фатальные.
var (
	ErrIntegrity = errors.New("database integrity check failed")
	ErrFatal     = errors.New("fatal error")
)

// Kind - вид ошибки.
type Kind int

const (
	KindUnknown Kind = iota
	KindInput
	KindState
	KindTransient
	KindIntegrity
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindState:
		return "state"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	inputErrors = []error{
		ErrInvalidGrowid, ErrInvalidQty, ErrInvalidAmount, ErrInvalidProductCode, ErrInvalidInput,
	}
	stateErrors = []error{
		ErrNotRegistered, ErrAlreadyRegistered, ErrNotFound, ErrExists, ErrOutOfStock,
		ErrInsufficientBalance, ErrBlacklisted, ErrMaintenance, ErrForbidden,
		ErrSessionRequired, ErrTooManyAttempts, ErrWrongPassword,
	}
)

// KindOf определяет вид ошибки по цепочке обёрток.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, e := range inputErrors {
		if errors.Is(err, e) {
			return KindInput
		}
	}
	for _, e := range stateErrors {
		if errors.Is(err, e) {
			return KindState
		}
	}
	switch {
	case errors.Is(err, ErrTransient), errors.Is(err, ErrBusy),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrFatal):
		return KindFatal
	}
	return KindUnknown
}

// UserMessage возвращает текст, который можно показать пользователю.
// Неизвестные ошибки наружу не отдаются.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindInput, KindState:
		for _, e := range inputErrors {
			if errors.Is(err, e) {
				return e.Error()
			}
		}
		for _, e := range stateErrors {
			if errors.Is(err, e) {
				return e.Error()
			}
		}
	case KindTransient:
		if errors.Is(err, ErrBusy) {
			return ErrBusy.Error()
		}
	}
	return ErrTransient.Error()
}

// LogError пишет ошибку с уровнем, соответствующим её виду.
func LogError(entry *log.Entry, err error, msg string) {
	entry = entry.WithError(err).WithField("kind", KindOf(err).String())
	switch KindOf(err) {
	case KindInput:
		entry.Debug(msg)
	case KindState:
		entry.Info(msg)
	case KindTransient:
		entry.Warn(msg)
	default:
		entry.Error(msg)
	}
}
