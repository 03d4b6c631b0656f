// 認証ゲートウェイのエントリポイント。
// GitHub/GoogleのOAuth2認可コードを受け取り、自前のJWTを発行する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
