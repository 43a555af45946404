package app

import (
	"flag"
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は使用済みトークンのクリーンアップワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCreateAdmin は管理者アカウントを作成することを示す。
	CommandCreateAdmin Command = "create-admin"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "create-admin":
		return CommandCreateAdmin
	default:
		return CommandServe
	}
}

// CreateAdminOptions はcreate-adminサブコマンドの引数。
type CreateAdminOptions struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ParseCreateAdminArgs はcreate-adminサブコマンドのフラグを解析する。
// argsにはサブコマンド名より後ろの引数を渡す。
// パスワードが省略された場合はADMIN_PASSWORD環境変数を使う。
func ParseCreateAdminArgs(args []string, output io.Writer, getenv func(string) string) (*CreateAdminOptions, error) {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := &CreateAdminOptions{}
	fs.StringVar(&opts.Email, "email", "", "管理者のメールアドレス")
	fs.StringVar(&opts.Password, "password", "", "管理者のパスワード（省略時はADMIN_PASSWORD）")
	fs.StringVar(&opts.FirstName, "first-name", "Admin", "名")
	fs.StringVar(&opts.LastName, "last-name", "User", "姓")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if opts.Password == "" && getenv != nil {
		opts.Password = getenv("ADMIN_PASSWORD")
	}
	if opts.Email == "" {
		return nil, fmt.Errorf("--email is required")
	}
	if opts.Password == "" {
		return nil, fmt.Errorf("--password or ADMIN_PASSWORD is required")
	}
	return opts, nil
}
