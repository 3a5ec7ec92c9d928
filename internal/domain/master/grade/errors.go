package grade

import "errors"

var ErrPayGradeNotFound = errors.New("pay grade structure not found")
