package errs

import "errors"

var ErrUserNotFound = errors.New("user not found")
var ErrInvalidToken = errors.New("invalid token")
var ErrLoginAlreadyExists = errors.New("login already exists")

var ErrOrderNotFound = errors.New("order not found")
var ErrBidNotFound = errors.New("bid not found")
var ErrDiscountNotFound = errors.New("discount not found")
var ErrExpertNotFound = errors.New("expert not found")
var ErrWorkTypeNotFound = errors.New("work type not found")
var ErrComplexityNotFound = errors.New("complexity not found")

// ErrPastDeadline — дедлайн в прошлом, цену не посчитать.
var ErrPastDeadline = errors.New("deadline is in the past")

// ErrForbidden — операция недоступна этой роли или не владельцу.
var ErrForbidden = errors.New("forbidden")

// ErrPreconditionFailed — статус заказа не допускает переход.
var ErrPreconditionFailed = errors.New("precondition failed")

var ErrInvalidAmount = errors.New("invalid amount")
var ErrInvalidRating = errors.New("invalid rating")
var ErrDiscountNotApplicable = errors.New("discount not applicable")
var ErrNoDiscountApplied = errors.New("no discount applied")
