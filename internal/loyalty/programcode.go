package loyalty

import (
	"fmt"
	"strconv"
	"strings"
)

const programCodePrefix = "LP"

// ProgramCode строит программный код из числового идентификатора записи.
// Формат стабильный и обратимый: LP000042 <-> 42. Используется только
// для поиска унаследованных записей, никогда для авторизации.
func ProgramCode(id int64) string {
	return fmt.Sprintf("%s%06d", programCodePrefix, id)
}

// ParseProgramCode восстанавливает числовой идентификатор из программного кода.
func ParseProgramCode(code string) (int64, error) {
	digits, ok := strings.CutPrefix(code, programCodePrefix)
	if !ok {
		return 0, fmt.Errorf("program code %q: missing %s prefix", code, programCodePrefix)
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("program code %q: %w", code, err)
	}
	if id < 0 {
		return 0, fmt.Errorf("program code %q: negative id", code)
	}
	return id, nil
}
