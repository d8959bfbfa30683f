package memory

import (
	"sync"

	"go.uber.org/zap"
)

// logger is the package-level diagnostic sink. It defaults to a disabled
// logger so the hot allocation path never pays for log-site overhead
// unless a caller opts in with SetLogger or Configure.
var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop().Sugar()
)

// SetLogger installs l as the package's diagnostic logger. Passing nil
// restores the no-op logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		logger = zap.NewNop().Sugar()
		return
	}
	logger = l.Sugar()
}

func currentLogger() *zap.SugaredLogger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func logSuperblockMinted(sc int, blockSize, blocksPerSuperblock int) {
	currentLogger().Debugw("superblock minted",
		"sizeClass", sc, "blockSize", blockSize, "blocksPerSuperblock", blocksPerSuperblock)
}

func logSuperblockRetired(sc int, blockSize int) {
	currentLogger().Debugw("superblock retired",
		"sizeClass", sc, "blockSize", blockSize)
}

func logDescriptorPoolGrown(count int) {
	currentLogger().Debugw("descriptor pool grown", "newDescriptors", count)
}

func logOSAllocFailure(size int, err error) {
	currentLogger().Warnw("OS page allocation failed", "size", size, "error", err)
}
