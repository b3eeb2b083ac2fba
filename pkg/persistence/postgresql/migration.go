package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE entities (
				kind VARCHAR(64) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				data JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (kind, tenant_id, id)
			);
		`,
		2: `
			-- Executions and evaluations are listed newest first by the services
			CREATE INDEX idx_entities_tenant_kind_created ON entities(tenant_id, kind, created_at DESC);
		`,
	}
}
