// Package audit records who did what to which console.
//
// Every power change, command and special action that arrives over the
// API or the MQTT bus is written to the audit_logs table together with
// its outcome, as are operator logins.
package audit
