package mcpserver

// PostFormat describes the post file format that LLM consumers should
// follow when drafting posts.
const PostFormat = `# Post Format

Every post in the remote repository is one Markdown file under the content
directory. The file name is derived from the title when the post is first
published and never changes afterwards.

## Structure

` + "```" + `markdown
---
title: "Human-readable title"
summary: "One sentence shown in listings"
date: "2024-06-01"
draft: false
tools: ["go", "sqlite"]
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **Front matter comes first.** The ` + "`---`" + ` fences must open the file.
2. **` + "`title`" + ` is required.** Untitled posts are published under a
   placeholder name.
3. **` + "`date`" + ` is YYYY-MM-DD.** Other common formats are normalized on
   publish; an empty date becomes the publish date.
4. **` + "`draft`" + `** hides a published post from the site. It does not
   make the post local-only.
5. **` + "`tools`" + `** is the tag list. Duplicates and blanks are dropped.

## Drafts and publishing

- create_draft stores the post locally only. Nothing reaches the remote until
  publish_document is called.
- publish_document sends the post and every local image it references in a
  single commit. Remote images and absolute paths are left untouched.
- If a post with the same file name already exists remotely, the new post is
  published under a numbered name and a warning is returned.

## Images

Use upload_image to store an image, then paste the returned markdownImage
into the body. Allowed types: png, jpg, jpeg, gif, webp, svg. Maximum size
is 10 MB.
`
