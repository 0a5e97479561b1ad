package ledger

import "errors"

var (
	// ErrDuplicateMovement повторная вставка ID с другим содержимым.
	// Сигнализирует о баге в вызывающем коде, а не о легальном ретрае.
	ErrDuplicateMovement = errors.New("movement id already exists with different payload")
)
