// attemptctl 作答运维命令：单条自动交卷、时长回填、手动触发一轮超时扫描。
//
// 用法:
//
//	attemptctl autosubmit <attemptID>
//	attemptctl backfill [--all-statuses]
//	attemptctl sweep
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
