// Package http provides HTTP handlers and middleware for the class scheduler API.
//
// Every route except GET /healthz requires an `Authorization: Bearer <staff key>`
// header. The router exposes the following endpoints:
//   - GET /schedules[?class_name=&coach_id=&page=&per_page=]: one page of
//     schedules with {"current_page","last_page","per_page","total","from","to"}
//     under "pagination". className, coachId and pagelimit are accepted too.
//   - POST /schedules: creates a schedule. Body: `scheduleRequest`, where
//     schedule_type is a name or the numeric code 1/2. Response:
//     {"schedule","occurrences","warnings"}.
//   - GET /schedules/{id}: returns the schedule definition.
//   - PUT /schedules/{id}: reconciles the schedule against an edited definition.
//     Response: {"schedule","updated","created","deleted","warnings","failures"}.
//     A cancelled or timed out reconcile answers with the error and the changes
//     already committed under "result".
//   - DELETE /schedules/{id}: removes the schedule. Occurrences with attendance
//     records are cancelled and listed with soft_cancelled.
//   - GET /schedules/{id}/occurrences[?include_cancelled=true]: occurrences with
//     seat figures.
//   - POST /occurrences/{id}/enrollments {"member_id"}, DELETE
//     /occurrences/{id}/enrollments/{member_id}, GET /occurrences/{id}/seats.
//   - POST /occurrences/{id}/attendance {"member_id","status"}, GET
//     /occurrences/{id}/attendance (audit history), POST
//     /occurrences/{id}/attendance/{member_id}/reopen.
//   - GET /coaches[?include_inactive=true], POST /coaches, PATCH /coaches/{id} {"active"}, POST
//     /members/{id}/packages {"sessions"}, GET /members/{id}/package.
//
// Every "warnings" entry carries a "type": PARTIAL_TRUNCATION entries hold
// retained_indices and blocking_indices, COACH_CONFLICT entries describe the
// overlapping occurrence.
//
// Errors are returned as `errorResponse` with Japanese messages: 422 carries a
// per-field map, 409 carries an error_code and structured details.
package http
