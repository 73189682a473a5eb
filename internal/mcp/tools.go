package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stringItems = mcp.Items(map[string]any{"type": "string"})

var sessionStatusToolDef = mcp.NewTool("session_status",
	mcp.WithDescription("Report whether a user is logged in. Log in with `tcap login`; tools cannot log in."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var listToolDef = mcp.NewTool("capsule_list",
	mcp.WithDescription("List one page of the user's time capsules, most recent first. Items carry a message preview, not the full message."),
	mcp.WithString("status",
		mcp.Description("Only capsules with this status"),
		mcp.Enum("pending", "delivered", "failed"),
	),
	mcp.WithNumber("limit", mcp.Description("Page size (default 50, max 100)")),
	mcp.WithString("last_key", mcp.Description("Cursor returned by the previous page")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var getToolDef = mcp.NewTool("capsule_get",
	mcp.WithDescription("Fetch one capsule by id."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule id")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var createToolDef = mcp.NewTool("capsule_create",
	mcp.WithDescription("Schedule a new time capsule for email delivery. Image files are uploaded first, in order."),
	mcp.WithString("title", mcp.Required()),
	mcp.WithString("recipient_email", mcp.Required()),
	mcp.WithString("scheduled_date", mcp.Required(),
		mcp.Description("Delivery time: RFC 3339 (2030-01-31T09:00:00Z) or local YYYY-MM-DDTHH:MM. Must be in the future."),
	),
	mcp.WithString("message", mcp.Required()),
	mcp.WithString("occasion", mcp.Description("birthday, anniversary, graduation, ...")),
	mcp.WithArray("tags", stringItems),
	mcp.WithArray("files", stringItems, mcp.Description("Local image paths to attach (max 5, 10MB each)")),
)

var updateToolDef = mcp.NewTool("capsule_update",
	mcp.WithDescription("Change a pending capsule. Omitted fields are left unchanged; files are appended to the existing attachments."),
	mcp.WithString("id", mcp.Required()),
	mcp.WithString("title"),
	mcp.WithString("recipient_email"),
	mcp.WithString("scheduled_date", mcp.Description("RFC 3339 or local YYYY-MM-DDTHH:MM")),
	mcp.WithString("message"),
	mcp.WithString("occasion"),
	mcp.WithArray("tags", stringItems, mcp.Description("Replaces all tags")),
	mcp.WithArray("files", stringItems, mcp.Description("Local image paths to append")),
)

var deleteToolDef = mcp.NewTool("capsule_delete",
	mcp.WithDescription("Delete a pending capsule. Delivered capsules cannot be deleted."),
	mcp.WithString("id", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)
