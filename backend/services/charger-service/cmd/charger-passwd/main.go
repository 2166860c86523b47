package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"ampease/backend/services/charger-service/internal/auth"
)

var cli struct {
	Cost     int    `help:"bcrypt cost, 0 uses the library default." default:"0"`
	Password string `help:"Password to hash. Read from stdin when empty." env:"CHARGER_ADMIN_PASSWORD"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("charger-passwd"),
		kong.Description("Print a bcrypt hash for admin.passwordHash."),
	)

	password := cli.Password
	if password == "" {
		var err error
		password, err = readPassword(os.Stdin)
		ctx.FatalIfErrorf(err)
	}

	hash, err := auth.NewBcryptHasher(cli.Cost).Hash(password)
	ctx.FatalIfErrorf(err)
	fmt.Println(hash)
}

func readPassword(r io.Reader) (string, error) {
	fmt.Fprint(os.Stderr, "operator password: ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
