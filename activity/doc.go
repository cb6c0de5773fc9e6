// Package activity holds sinks for the controller's activity log: the
// record of who did what to which display (commands, assignments,
// emergency toggles, offline transitions).
//
// Three backends are provided. SQLiteLogger writes to the controller's
// own database and can list recent entries. DynamoLogger writes to a
// DynamoDB table for deployments that already ship audit data to AWS.
// StdLogger only prints.
package activity
