package ir

import (
	"log/slog"

	"github.com/marmos91/triage/internal/logger"
	"github.com/marmos91/triage/pkg/model"
)

// Decompile runs the full pipeline over disassembled basic blocks:
// lowering, simplification, structure recovery, and C emission.
func Decompile(functionName string, blocks []model.BasicBlock) (string, error) {
	l := NewLowerer()
	fn, err := l.Lower(functionName, blocks)
	if err != nil {
		return "", err
	}
	SimplifyFunction(&fn)
	statements := RecoverStructure(&fn)

	logger.Debug("function decompiled",
		slog.String(logger.KeyFunction, functionName),
		slog.Int(logger.KeyBlockCount, len(blocks)))
	return EmitC(functionName, l.Convention(), statements), nil
}
