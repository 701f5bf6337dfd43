// Foldflow — оркестратор pipeline предсказания структуры РНК.
//
// Использование:
//
//	foldflow [--config FILE] [--json] <command> [flags]
//
// Команды:
//
//	run     Pipeline для одной последовательности
//	batch   Pipeline для директории FASTA (опционально по расписанию)
//	status  Итог существующего run
//	check   Pre-flight проверка инструментов
package main

import (
	"os"

	"github.com/shaiso/Foldflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	os.Exit(cli.Execute(version, os.Args[1:]))
}
