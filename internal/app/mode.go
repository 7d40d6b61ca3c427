package app

import "go.uber.org/zap"

// Mode records which backends bootstrap chose for this process.
type Mode struct {
	Storage  string `json:"storage"`   // postgres | memory
	JobQueue string `json:"job_queue"` // river | ingest_pool
	Locker   string `json:"locker"`    // redis | memory
	Events   string `json:"events"`    // kafka | log
	Auth     bool   `json:"auth"`
}

// Mode reports the bootstrap decisions.
func (a *Application) Mode() Mode {
	m := Mode{Storage: "memory", JobQueue: "ingest_pool", Locker: "memory", Events: "log"}
	if a.DB != nil {
		m.Storage = "postgres"
		if a.DB.RiverClient != nil {
			m.JobQueue = "river"
		}
	}
	if a.infra != nil {
		if a.infra.Redis != nil {
			m.Locker = "redis"
		}
		if a.infra.Kafka != nil {
			m.Events = "kafka"
		}
	}
	if a.Config != nil {
		m.Auth = a.Config.Security.AuthEnabled
	}
	return m
}

// Fields renders the mode for structured logs.
func (m Mode) Fields() []zap.Field {
	return []zap.Field{
		zap.String("storage", m.Storage),
		zap.String("job_queue", m.JobQueue),
		zap.String("locker", m.Locker),
		zap.String("events", m.Events),
		zap.Bool("auth", m.Auth),
	}
}
