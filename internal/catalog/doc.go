// Package catalog предоставляет описания flows для scheduler'а.
//
// Реализации:
//   - Dir      — YAML-файлы в директории (перечитываются каждый тик)
//   - Postgres — таблица orbit_flows, описание flow в JSONB
//   - Static   — каталог в памяти (тесты, memory://)
//
// Tenant по умолчанию подставляется здесь, на границе. Ниже по стеку
// tenant всегда передаётся явно.
package catalog
