// Package logging builds experimentd's structured logger on log/slog.
//
// Every entry carries service and version fields. Subsystems take a child
// logger from Component so their entries are tagged:
//
//	log := logging.New(cfg.Logging, version)
//	container.SetLogger(log.Component("container"))
//
// The level is shared by a logger and its children and can be changed at
// runtime with SetLevel; experimentd does so on SIGHUP.
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr
//
// Never log secrets, tokens or passwords.
package logging
