// Package scheduler реализует цикл планирования реплики.
//
// Каждый тик Scheduler читает активные flows из каталога, вычисляет
// due-триггеры в ограниченном пуле и проводит кандидатов через
// composite-окна и concurrency gate.
//
// Структура:
//   - scheduler.go — Scheduler, Serve/Run/Tick
//   - evaluate.go  — вычисление trigger'а (локально или через очередь), контекст trigger'а
//   - admit.go     — composite, concurrency gate, создание execution
//   - executor.go  — переходы состояний, Kill, Submit, flow-триггеры
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Store:   st,
//	    Queue:   queue,
//	    Catalog: flows,
//	    Owner:   cfg.ReplicaName,
//	    Logger:  logger,
//	})
//
//	if err := sched.Serve(ctx); err != nil {
//	    logger.Error("scheduler failed", "error", err)
//	}
//
// Leader election не нужна: реплики координируются через leases
// на триггерах и условную запись в общем хранилище.
package scheduler
