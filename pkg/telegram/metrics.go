package telegram

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telegram bot metrics
var (
	// Счетчик обработанных команд по типам
	commandsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_commands_processed_total",
			Help: "Total number of processed commands by type",
		},
		[]string{"command"}, // start, help, new, bulk, done, undo, undo_bulk, cancel, back, whoami
	)

	// Счетчик записанных операций по источнику ввода
	transactionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_transactions_recorded_total",
			Help: "Total number of transactions written to the ledger by entry mode",
		},
		[]string{"mode"}, // quick, guided, bulk
	)

	// Счетчик подавленных дублей по слою дедупликации
	duplicatesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_duplicates_suppressed_total",
			Help: "Total number of suppressed duplicate messages by dedup layer",
		},
		[]string{"layer"}, // id, content, ledger
	)

	// Счетчик отмен
	undosPerformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_undos_performed_total",
			Help: "Total number of undo operations by type",
		},
		[]string{"type"}, // single, bulk
	)

	// Счетчик ошибок по типам
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kassa_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"}, // format, field, ledger_write, undo, access_denied
	)

	// Гистограмма времени записи в таблицу
	ledgerWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kassa_ledger_write_duration_seconds",
			Help:    "Duration of ledger append calls in seconds",
			Buckets: []float64{0.1, 0.3, 0.5, 1, 2.5, 5, 10},
		},
	)
)
