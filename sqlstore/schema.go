package sqlstore

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	"github.com/luno/jettison/errors"
)

// Connect opens a MySQL connection, verifies it and ensures the schema
// exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	dbc, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	err = dbc.PingContext(ctx)
	if err != nil {
		dbc.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	err = InitSchema(ctx, dbc)
	if err != nil {
		dbc.Close()
		return nil, err
	}

	return New(dbc), nil
}

// InitSchema creates all required tables if they do not exist yet.
func InitSchema(ctx context.Context, dbc *sql.DB) error {
	for _, stmt := range Migrations {
		_, err := dbc.ExecContext(ctx, stmt)
		if err != nil {
			return errors.Wrap(err, "create table")
		}
	}
	return nil
}

// Migrations holds one create table statement per logical table.
var Migrations = []string{
	`
	create table if not exists workflow (
		id                 bigint not null auto_increment,
		wf_uuid            varchar(255) not null,
		dax_label          varchar(255) not null,
		dax_version        varchar(255) not null,
		dax_file           varchar(1024) not null,
		dag_file_name      varchar(1024) not null,
		timestamp          double not null,
		submit_hostname    varchar(255) not null,
		submit_dir         varchar(1024) not null,
		planner_arguments  text not null,
		user               varchar(255) not null,
		grid_dn            varchar(255) not null,
		planner_version    varchar(255) not null,
		root_wf_id         bigint,
		parent_wf_id       bigint,

		primary key (id),

		unique by_wf_uuid (wf_uuid)
	)`,
	`
	create table if not exists workflow_state (
		id             bigint not null auto_increment,
		wf_id          bigint not null,
		state          varchar(255) not null,
		timestamp      double not null,
		restart_count  int not null,
		status         int not null,

		primary key (id),

		index by_wf_id (wf_id)
	)`,
	`
	create table if not exists job (
		id           bigint not null auto_increment,
		wf_id        bigint not null,
		exec_job_id  varchar(255) not null,
		submit_file  varchar(1024) not null,
		type_desc    varchar(255) not null,
		clustered    tinyint(1) not null,
		max_retries  int not null,
		executable   varchar(1024) not null,
		argv         text not null,
		task_count   int not null,

		primary key (id),

		unique by_wf_id_exec_job_id (wf_id, exec_job_id)
	)`,
	`
	create table if not exists job_edge (
		id                  bigint not null auto_increment,
		wf_id               bigint not null,
		parent_exec_job_id  varchar(255) not null,
		child_exec_job_id   varchar(255) not null,

		primary key (id),

		index by_wf_id (wf_id)
	)`,
	`
	create table if not exists task (
		id              bigint not null auto_increment,
		wf_id           bigint not null,
		job_id          bigint,
		abs_task_id     varchar(255) not null,
		transformation  varchar(255) not null,
		argv            text not null,
		type_desc       varchar(255) not null,

		primary key (id),

		unique by_wf_id_abs_task_id (wf_id, abs_task_id)
	)`,
	`
	create table if not exists task_edge (
		id                  bigint not null auto_increment,
		wf_id               bigint not null,
		parent_abs_task_id  varchar(255) not null,
		child_abs_task_id   varchar(255) not null,

		primary key (id),

		index by_wf_id (wf_id)
	)`,
	`
	create table if not exists job_instance (
		id                 bigint not null auto_increment,
		job_id             bigint not null,
		host_id            bigint,
		subwf_id           bigint,
		job_submit_seq     int not null,
		sched_id           varchar(255) not null,
		site               varchar(255) not null,
		user               varchar(255) not null,
		work_dir           text not null,
		cluster_start      double not null,
		cluster_duration   double not null,
		local_duration     double not null,
		stdout_file        varchar(1024) not null,
		stdout_text        longtext not null,
		stderr_file        varchar(1024) not null,
		stderr_text        longtext not null,
		stdin_file         varchar(1024) not null,
		multiplier_factor  int not null,
		exitcode           int not null,

		primary key (id),

		unique by_job_id_job_submit_seq (job_id, job_submit_seq),
		index by_sched_id (sched_id)
	)`,
	`
	create table if not exists job_state (
		id                   bigint not null auto_increment,
		job_instance_id      bigint not null,
		state                varchar(255) not null,
		timestamp            double not null,
		jobstate_submit_seq  bigint not null,

		primary key (id),

		index by_job_instance_id (job_instance_id)
	)`,
	`
	create table if not exists host (
		id            bigint not null auto_increment,
		wf_id         bigint not null,
		site          varchar(255) not null,
		hostname      varchar(255) not null,
		ip            varchar(255) not null,
		uname         varchar(255) not null,
		total_memory  bigint not null,

		primary key (id),

		unique by_wf_id_site_hostname_ip (wf_id, site, hostname, ip)
	)`,
	`
	create table if not exists invocation (
		id               bigint not null auto_increment,
		wf_id            bigint not null,
		job_instance_id  bigint not null,
		task_submit_seq  int not null,
		abs_task_id      varchar(255) not null,
		start_time       double not null,
		remote_duration  double not null,
		remote_cpu_time  double not null,
		exitcode         int not null,
		transformation   varchar(255) not null,
		executable       varchar(1024) not null,
		argv             text not null,

		primary key (id),

		unique by_job_instance_id_task_submit_seq (job_instance_id, task_submit_seq)
	)`,
	`
	create table if not exists job_metrics (
		id                 bigint not null auto_increment,
		job_instance_id    bigint not null,
		dag_job_id         varchar(255) not null,
		sched_id           varchar(255) not null,
		site               varchar(255) not null,
		hostname           varchar(255) not null,
		exec_name          varchar(1024) not null,
		kickstart_pid      int not null,
		ts                 double not null,
		stime              double not null,
		utime              double not null,
		iowait             double not null,
		vmsize             bigint not null,
		pmsize             bigint not null,
		read_bytes         bigint not null,
		write_bytes        bigint not null,
		syscr              double not null,
		syscw              double not null,
		threads            int not null,
		bytes_transferred  double not null,
		transfer_duration  double not null,

		primary key (id),

		index by_job_instance_id_dag_job_id (job_instance_id, dag_job_id)
	)`,
}
