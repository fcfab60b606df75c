package log

import "log/slog"

func ExecutionID[T ~string](id T) slog.Attr {
	return slog.String("execution_id", string(id))
}

func FlowID[T ~string](id T) slog.Attr {
	return slog.String("flow_id", string(id))
}

func StepID[T ~string](id T) slog.Attr {
	return slog.String("step_id", string(id))
}

func EdgeID[T ~string](id T) slog.Attr {
	return slog.String("edge_id", string(id))
}

func EventType[T ~string](et T) slog.Attr {
	return slog.String("event_type", string(et))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Round(round int) slog.Attr {
	return slog.Int("round", round)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
