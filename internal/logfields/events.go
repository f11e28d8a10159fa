package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func State(val string) zap.Field {
	return zap.String("state", val)
}

func Package(val string) zap.Field {
	return zap.String("package", val)
}
