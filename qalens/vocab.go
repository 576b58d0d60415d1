package qalens

// Common aliases appended after the project-specific ones, so that exports using
// generic headers are still detected at a lower priority.
var commonAliases = map[Role][]string{
	RoleExpertID:  {"expert_id", "expert", "annotator_id", "annotator", "worker_id", "worker", "labeler_id", "labeler", "contributor_id", "user_id", "email"},
	RoleScore:     {"score", "quality_score", "rating", "grade", "qa_score", "result", "outcome", "verdict", "status"},
	RoleReviewer:  {"reviewer", "reviewer_id", "auditor", "auditor_id", "qa_reviewer", "checker", "evaluator", "rater"},
	RoleCategory:  {"category", "error_category", "error_type", "issue_type", "defect_type", "tag", "label_category"},
	RoleTimestamp: {"timestamp", "reviewed_at", "review_date", "created_at", "submitted_at", "date", "time", "updated_at"},
	RoleTaskID:    {"task_id", "task", "item_id", "item", "sample_id", "job_id", "record_id", "uid"},
}

func projectType(id, name string, specific map[Role][]string) ProjectTypeConfig {
	aliases := make(map[Role][]string, len(commonAliases))
	for _, role := range AllRoles() {
		merged := make([]string, 0, len(specific[role])+len(commonAliases[role]))
		seen := make(map[string]struct{})
		for _, list := range [][]string{specific[role], commonAliases[role]} {
			for _, alias := range list {
				key := NormalizeHeader(alias)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				merged = append(merged, alias)
			}
		}
		aliases[role] = merged
	}
	return ProjectTypeConfig{ID: id, Name: name, Aliases: aliases}
}

func defaultProjectTypes() []ProjectTypeConfig {
	return []ProjectTypeConfig{
		projectType("video_generation", "Video Generation", map[Role][]string{
			RoleExpertID:  {"srt_id", "creator_id", "generator_id", "prompt_writer"},
			RoleScore:     {"score", "video_score", "overall_score"},
			RoleReviewer:  {"auditor", "video_auditor"},
			RoleCategory:  {"error_category", "artifact_type", "failure_mode"},
			RoleTimestamp: {"timestamp", "audit_date"},
			RoleTaskID:    {"video_id", "clip_id", "prompt_id"},
		}),
		projectType("image_annotation", "Image Annotation", map[Role][]string{
			RoleExpertID:  {"annotator_id", "annotator", "labeler"},
			RoleScore:     {"qa_score", "iou_score", "accuracy"},
			RoleReviewer:  {"qa_reviewer", "reviewer"},
			RoleCategory:  {"error_type", "class_name", "label_error"},
			RoleTimestamp: {"annotated_at", "timestamp"},
			RoleTaskID:    {"image_id", "frame_id", "asset_id"},
		}),
		projectType("text_classification", "Text Classification", map[Role][]string{
			RoleExpertID:  {"labeler_id", "annotator_id"},
			RoleScore:     {"label_quality", "agreement_score", "score"},
			RoleReviewer:  {"reviewer", "adjudicator"},
			RoleCategory:  {"label_category", "intent", "class"},
			RoleTimestamp: {"labeled_at", "timestamp"},
			RoleTaskID:    {"text_id", "document_id", "doc_id", "utterance_id"},
		}),
		projectType("audio_transcription", "Audio Transcription", map[Role][]string{
			RoleExpertID:  {"transcriber_id", "transcriber"},
			RoleScore:     {"wer_grade", "transcript_score", "score"},
			RoleReviewer:  {"qa_listener", "reviewer"},
			RoleCategory:  {"error_category", "error_type"},
			RoleTimestamp: {"transcribed_at", "timestamp"},
			RoleTaskID:    {"audio_id", "segment_id", "clip_id"},
		}),
		projectType("code_review", "Code Review", map[Role][]string{
			RoleExpertID:  {"author_id", "author", "developer_id", "engineer"},
			RoleScore:     {"review_score", "severity", "verdict"},
			RoleReviewer:  {"code_reviewer", "reviewer"},
			RoleCategory:  {"issue_type", "finding_category", "rule"},
			RoleTimestamp: {"reviewed_at", "merged_at"},
			RoleTaskID:    {"pr_id", "pull_request", "change_id", "commit"},
		}),
		projectType("llm_preference", "LLM Preference / RLHF", map[Role][]string{
			RoleExpertID:  {"rater_id", "writer_id", "trainer_id"},
			RoleScore:     {"preference_score", "quality_rating", "likert", "rating"},
			RoleReviewer:  {"auditor", "reviewer", "qa_auditor"},
			RoleCategory:  {"error_category", "dimension", "rubric_item"},
			RoleTimestamp: {"completed_at", "timestamp"},
			RoleTaskID:    {"conversation_id", "prompt_id", "comparison_id"},
		}),
		projectType("search_relevance", "Search Relevance", map[Role][]string{
			RoleExpertID:  {"judge_id", "assessor_id", "rater_id"},
			RoleScore:     {"relevance", "relevance_score", "judgment"},
			RoleReviewer:  {"qa_judge", "reviewer"},
			RoleCategory:  {"query_category", "vertical", "error_category"},
			RoleTimestamp: {"judged_at", "timestamp"},
			RoleTaskID:    {"query_id", "query_doc_id", "pair_id"},
		}),
		projectType("generic", "Generic QA Export", nil),
	}
}

func defaultQualityTypes() []QualityTypeConfig {
	return []QualityTypeConfig{
		{ID: "numeric_1_5", Name: "Numeric 1-5", IsNumeric: true, MinValue: 1, MaxValue: 5, FailThreshold: 2.5, MinorThreshold: 3.5},
		{ID: "numeric_1_10", Name: "Numeric 1-10", IsNumeric: true, MinValue: 1, MaxValue: 10, FailThreshold: 5, MinorThreshold: 7},
		{ID: "numeric_0_1", Name: "Numeric 0-1", IsNumeric: true, MinValue: 0, MaxValue: 1, FailThreshold: 0.7, MinorThreshold: 0.85},
		{ID: "percentage", Name: "Percentage 0-100", IsNumeric: true, MinValue: 0, MaxValue: 100, FailThreshold: 70, MinorThreshold: 85},
		{
			ID:         "pass_fail",
			Name:       "Pass / Fail",
			PassLabels: []string{"pass", "passed", "yes", "approved", "accept", "accepted", "ok", "correct", "true"},
			FailLabels: []string{"fail", "failed", "no", "rejected", "reject", "incorrect", "false"},
		},
		{
			ID:          "severity_labels",
			Name:        "Severity Labels",
			PassLabels:  []string{"none", "no issue", "no issues", "clean", "perfect"},
			MinorLabels: []string{"minor", "low", "trivial", "cosmetic"},
			FailLabels:  []string{"major", "critical", "high", "blocker", "severe"},
		},
		{
			ID:          "letter_grade",
			Name:        "Letter Grade",
			PassLabels:  []string{"a+", "a", "a-", "b+", "b", "b-"},
			MinorLabels: []string{"c+", "c", "c-"},
			FailLabels:  []string{"d+", "d", "d-", "e", "f"},
		},
		{
			ID:          "likert_agreement",
			Name:        "Likert Agreement",
			PassLabels:  []string{"strongly agree", "agree"},
			MinorLabels: []string{"neutral", "neither agree nor disagree", "somewhat agree"},
			FailLabels:  []string{"disagree", "strongly disagree", "somewhat disagree"},
		},
	}
}
