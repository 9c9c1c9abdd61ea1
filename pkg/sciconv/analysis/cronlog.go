package analysis

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ScheduleParser accepts standard five field specs, an optional leading
// seconds field and descriptors such as "@every 5s".
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a poll interval spec with ScheduleParser.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return ScheduleParser.Parse(spec)
}

// zapCronLogger lets cron log through zap. Cron's routine chatter goes to
// Debug.
type zapCronLogger struct {
	logger *zap.Logger
}

func (z zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.logger.Debug(msg, cronFields(keysAndValues)...)
}

func (z zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.logger.Error(msg, append(cronFields(keysAndValues), zap.Error(err))...)
}

func cronFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields = append(fields, zap.Any(key, keysAndValues[i+1]))
		}
	}
	return fields
}
