// Command monitor-passwd prints a bcrypt hash for api.password_hash, or a
// random value for api.jwt.secret.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/pkg/crypto"
)

func main() {
	var secret bool
	flag.BoolVar(&secret, "secret", false, "Print a random JWT secret instead of hashing a password")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// 生成 JWT 密钥
	if secret {
		s, err := crypto.GenerateRandomString(32)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate secret")
		}
		fmt.Println(s)
		return
	}

	// 从标准输入读取一行密码
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Fatal().Err(err).Msg("Failed to read password")
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		log.Fatal().Msg("Empty password")
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}
	fmt.Println(hash)
}
