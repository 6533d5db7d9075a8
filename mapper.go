package loader

import (
	"context"
	"strings"
)

// attrRenames maps undotted source field names to the canonical attribute
// names the entities expose. Field names arrive dotted and abbreviated on the
// wire (xwf.id, job_inst.id, dur); dots are flattened to underscores first
// and the result is renamed through this table.
var attrRenames = map[string]string{
	// workflow
	"xwf_id":        "wf_uuid",
	"parent_xwf_id": "parent_wf_uuid",
	"root_xwf_id":   "root_xwf_id",
	// task.info
	"task_id": "abs_task_id",
	// task.edge
	"child_task_id":  "child_abs_task_id",
	"parent_task_id": "parent_abs_task_id",
	// job.info
	"job_id": "exec_job_id",
	// job.edge
	"child_job_id":  "child_exec_job_id",
	"parent_job_id": "parent_exec_job_id",
	// job_inst.submit.start and friends
	"job_inst_id": "job_submit_seq",
	"js_id":       "jobstate_submit_seq",
	"cluster_dur": "cluster_duration",
	"local_dur":   "local_duration",
	// inv.end
	"inv_id": "task_submit_seq",
	"dur":    "remote_duration",
}

// mapRecord assigns every record field to the entity via its typed setters.
// A field that cannot be assigned is logged and dropped; it never aborts the
// record. Numeric and boolean coercion happens inside the setters, so by the
// time an entity reaches a handler all of its fields are typed.
func (l *Loader) mapRecord(ctx context.Context, r Record, e Entity) {
	for k, v := range r {
		if k == FieldLevel {
			continue
		}

		attr := strings.ReplaceAll(k, ".", "_")
		if canonical, ok := attrRenames[attr]; ok {
			attr = canonical
		}

		if attr == "argv" {
			v = sanitizeArgv(v)
		}

		err := e.setField(attr, v)
		if err != nil {
			l.logger.Error(ctx, err, MKV{
				"event": r.Event(),
			})
		}
	}
}

// sanitizeArgv escapes backslashes and single quotes in command line
// argument strings.
func sanitizeArgv(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return v
}
