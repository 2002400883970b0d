package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/suffix-labs/btc-psbt/pkg/builder"
	"github.com/suffix-labs/btc-psbt/pkg/crypto"
	"github.com/suffix-labs/btc-psbt/pkg/psbt"
	"github.com/suffix-labs/btc-psbt/pkg/roles"
	"github.com/suffix-labs/btc-psbt/pkg/transaction"
)

// backendLog is the logging backend used to create all subsystem loggers.
// Log output goes to stderr so that command results on stdout can be piped.
var backendLog = btclog.NewBackend(os.Stderr)

// subsystemLoggers maps each subsystem identifier to its logger.
var subsystemLoggers = map[string]btclog.Logger{}

func init() {
	addSubLogger("BLDR", builder.UseLogger)
	addSubLogger("ROLE", roles.UseLogger)
	addSubLogger("PSBT", psbt.UseLogger)
	addSubLogger("CRYP", crypto.UseLogger)
	addSubLogger("TXN", transaction.UseLogger)
}

func addSubLogger(subsystem string, useLogger func(btclog.Logger)) {
	logger := backendLog.Logger(subsystem)
	logger.SetLevel(btclog.LevelOff)
	useLogger(logger)
	subsystemLoggers[subsystem] = logger
}

// setLogLevels sets every subsystem to the level named by debugLevel, either
// a single level such as "debug" or "off", or a comma separated list of
// <subsystem>=<level> pairs.
func setLogLevels(debugLevel string) error {
	if level, ok := btclog.LevelFromString(debugLevel); ok {
		for _, logger := range subsystemLoggers {
			logger.SetLevel(level)
		}
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		subsystem, levelName, found := strings.Cut(pair, "=")
		if !found {
			return fmt.Errorf("invalid debug level %q", pair)
		}
		logger, ok := subsystemLoggers[subsystem]
		if !ok {
			return fmt.Errorf("unknown subsystem %q", subsystem)
		}
		level, ok := btclog.LevelFromString(levelName)
		if !ok {
			return fmt.Errorf("invalid level %q for %s", levelName,
				subsystem)
		}
		logger.SetLevel(level)
	}
	return nil
}
