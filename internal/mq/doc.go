// Package mq — RabbitMQ транспорт backend'а "queue".
//
// Состояние jobs живёт в Postgres, сообщение job.ready только будит
// воркера. Потерянное сообщение не теряет job: воркер дополнительно
// опрашивает БД.
//
//   - connection.go — соединение с переподключением, publisher confirms
//   - topology.go   — foldflow.jobs -> jobs.ready, DLQ foldflow.dlq -> dlq.jobs
//   - publisher.go  — PublishJobReady
//   - consumer.go   — JobConsumer: ack, один повтор, затем DLQ
//   - message.go    — формат job.ready
package mq
