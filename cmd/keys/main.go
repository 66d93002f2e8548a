package keys

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"livefeed/src/auth"
)

var ErrNoToken = errors.New("no control token given: pass it as an argument or set CONTROL_TOKEN")

// HashToken prints the bcrypt hash to put in CONTROL_TOKEN_HASH. The
// argument wins over the environment.
func HashToken(out io.Writer, arg string) error {
	token := strings.TrimSpace(arg)
	if token == "" {
		token = strings.TrimSpace(GetConfig().ControlToken)
	}
	if token == "" {
		return ErrNoToken
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
