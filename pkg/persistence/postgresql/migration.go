package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL,
				category VARCHAR(100) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				priority INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_category ON workflows(category);
			CREATE INDEX idx_workflows_active ON workflows(active);

			CREATE TABLE workflow_steps (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				step_order INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				required_role VARCHAR(100) NOT NULL,
				required_user_id VARCHAR(255),
				is_required BOOLEAN NOT NULL DEFAULT true,
				time_limit_days INT NOT NULL CHECK (time_limit_days > 0),
				can_delegate BOOLEAN NOT NULL DEFAULT false,
				can_reject BOOLEAN NOT NULL DEFAULT false,
				can_return BOOLEAN NOT NULL DEFAULT false,
				PRIMARY KEY (workflow_id, step_order)
			);

			CREATE TABLE approval_requests (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				entity_id VARCHAR(255) NOT NULL,
				entity_type VARCHAR(100) NOT NULL,
				title VARCHAR(255) NOT NULL,
				description TEXT,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'in_progress', 'approved', 'rejected', 'cancelled', 'expired')),
				current_step_order INT NOT NULL DEFAULT 0,
				current_approver_id VARCHAR(255),
				current_step_due TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				completed_by VARCHAR(255),
				completion_notes TEXT,
				rejection_reason TEXT,
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_approval_requests_workflow_id ON approval_requests(workflow_id);
			CREATE INDEX idx_approval_requests_status ON approval_requests(status);
			CREATE INDEX idx_approval_requests_approver ON approval_requests(current_approver_id);
			CREATE INDEX idx_approval_requests_due ON approval_requests(current_step_due);

			CREATE TABLE approval_actions (
				id UUID PRIMARY KEY,
				request_id UUID NOT NULL REFERENCES approval_requests(id) ON DELETE CASCADE,
				step_order INT NOT NULL,
				actor_id VARCHAR(255) NOT NULL,
				action_type VARCHAR(50) NOT NULL,
				comments TEXT,
				delegate_to_id VARCHAR(255),
				delegate_reason TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_approval_actions_request_id ON approval_actions(request_id);
			CREATE INDEX idx_approval_actions_actor_id ON approval_actions(actor_id);
			CREATE INDEX idx_approval_actions_created_at ON approval_actions(created_at);
		`,
	}
}
