package spreadsheet

import (
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// component loggers. output is silent until ConfigureLogging (or
// commonlog.Configure) raises the verbosity.
var (
	evaluatorLog = commonlog.GetLogger("spreadsheet.evaluator")
	functionLog  = commonlog.GetLogger("spreadsheet.functions")
	sheetLog     = commonlog.GetLogger("spreadsheet.sheet")
)
