// Package testcase loads and validates integration-test fixtures for the
// VCF-to-BigQuery variant transform.
//
// # Fixture Format
//
// A fixture is a JSON array holding one test record by convention:
//
//	[
//	  {
//	    "test_name": "gnomad-genomes-grch37-chr-x-head2500-run-vep",
//	    "table_name": "gnomad_genomes_GRCh37_chrX_head2500_run_vep",
//	    "input_pattern": "gs://bucket/small_tests/gnomad_genomes.GRCh37.chrX.head2500.vcf",
//	    "annotation_fields": "CSQ",
//	    "runner": "DataflowRunner",
//	    "assertion_configs": [
//	      {
//	        "query": ["NUM_ROWS_QUERY"],
//	        "expected_result": {"num_rows": 9953}
//	      },
//	      {
//	        "query": [
//	          "SELECT COUNT(0) AS num_annotation_sets ",
//	          "FROM {TABLE_NAME} AS T, T.alternate_bases AS A, A.CSQ AS CSQ"
//	        ],
//	        "expected_result": {"num_annotation_sets": 45770}
//	      }
//	    ]
//	  }
//	]
//
// Query fragments are concatenated before execution. A query made of a single
// canned name (NUM_ROWS_QUERY, SUM_START_QUERY, SUM_END_QUERY) expands to its
// template, and {TABLE_NAME} is replaced with the table under test. See
// package querysql.
//
// Loading is strict: unknown fields are rejected so that typos such as
// "expected_results" fail loudly instead of silently skipping a check.
// CheckSchema additionally validates raw fixture bytes against an embedded
// CUE schema and reports positioned errors.
package testcase
