// Package cli реализует инструмент командной строки Foldflow.
//
// # Обзор
//
// CLI запускает pipeline в текущем процессе: резолвит конфигурацию,
// выполняет run через orchestrator и печатает итог. Состояние хранится
// только в директориях runs, поэтому status читает run.json и manifest.json.
//
// # Команды
//
//   - run: один run для одного FASTA
//   - batch: run для каждого FASTA в директории, опционально по cron
//   - status: итог существующего run
//   - check: pre-flight проверка инструментов режима
//
// # Коды выхода
//
//	0  успех (в том числе с placeholder)
//	2  run завершён с потерями (упавшие ветки или optional стадии)
//	1  фатальная ошибка
//
// Коды передаются через ExitError, main вызывает os.Exit(cli.Execute(...)).
//
// # Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные выводятся в stdout, журнал и сообщения — в stderr:
//
//	foldflow run --json seq.fasta | jq .status
package cli
