// Package engine описывает pipeline как данные.
//
// Включает:
//   - pipeline.go — встроенные pipeline для режимов fast и accurate
//   - validate.go — проверка PipelineSpec
//   - dag.go      — построение DAG стадий и порядок выполнения
//   - template.go — рендеринг командных строк и путей ({{ .Branch.Seed }})
//
// Engine не запускает инструменты: он отвечает за структуру pipeline
// и за то, какие командные строки получат стадии.
package engine
