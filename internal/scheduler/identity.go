package scheduler

import (
	"fmt"

	"github.com/k2on/ak-scheduler/internal/model"
)

const (
	// formattedPhoneLength は整形済み電話番号 "(xxx) xxx-xxxx" の長さ。
	formattedPhoneLength = 14
	// rawPhoneLength は数字のみの電話番号の長さ。
	rawPhoneLength = 10
)

// FormatPhone は電話番号をポータルが要求する "(xxx) xxx-xxxx" 形式に整形する。
// すでに整形済み（14文字）の入力はそのまま返すため、冪等に呼び出せる。
// 10桁の数字は整形し、それ以外の入力はINVALID_VALUEになる。
func FormatPhone(phone string) (string, error) {
	if len(phone) == formattedPhoneLength {
		return phone, nil
	}

	if len(phone) != rawPhoneLength {
		return "", model.NewInvalidValueError("phone", phone,
			"10桁の数字または整形済みの電話番号を指定してください")
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", model.NewInvalidValueError("phone", phone,
				"電話番号に数字以外の文字が含まれています")
		}
	}

	return fmt.Sprintf("(%s) %s-%s", phone[0:3], phone[3:6], phone[6:10]), nil
}
