// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// shellQuote wraps a value in single quotes for sh, escaping embedded
// single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// pyQuote renders a value as a single-quoted Python string literal.
func pyQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// scriptCommand wraps a Python script in a base64 envelope so it survives
// the shell untouched, writes it to a temp path in the pod and runs it.
func scriptCommand(script, tmpPath string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(script))
	return fmt.Sprintf("echo %s | base64 -d > %s && python3 %s", encoded, tmpPath, tmpPath)
}

// listScript enumerates a directory, emitting one JSON document with an
// items array sorted by name. Unreadable entries are skipped.
func listScript(path string) string {
	return fmt.Sprintf(`import os
import json
from datetime import datetime

path = %s

if not os.path.exists(path):
    print(json.dumps({"error": "Path does not exist: " + path}))
    raise SystemExit(1)

if not os.path.isdir(path):
    print(json.dumps({"error": "Path is not a directory: " + path}))
    raise SystemExit(1)

items = []
for item in sorted(os.listdir(path)):
    item_path = os.path.join(path, item)
    try:
        stat_info = os.stat(item_path)
        is_dir = os.path.isdir(item_path)
        mtime = datetime.fromtimestamp(stat_info.st_mtime)
        items.append({
            "id": item_path,
            "name": item,
            "type": "folder" if is_dir else "file",
            "size": 0 if is_dir else stat_info.st_size,
            "date": mtime.strftime("%%Y-%%m-%%dT%%H:%%M:%%SZ"),
        })
    except OSError:
        continue

print(json.dumps({"items": items}))
`, pyQuote(path))
}

// readScript reads a file as UTF-8 text, falling back to base64 for
// binary content.
func readScript(path string) string {
	return fmt.Sprintf(`import os
import json
import base64

path = %s

if not os.path.exists(path):
    print(json.dumps({"error": "File does not exist: " + path}))
    raise SystemExit(1)

if os.path.isdir(path):
    print(json.dumps({"error": "Path is a directory: " + path}))
    raise SystemExit(1)

try:
    with open(path, "r", encoding="utf-8") as f:
        content = f.read()
    print(json.dumps({"content": content, "encoding": "text"}))
except (UnicodeDecodeError, UnicodeError):
    with open(path, "rb") as f:
        content_b64 = base64.b64encode(f.read()).decode("utf-8")
    print(json.dumps({"content": content_b64, "encoding": "base64"}))
`, pyQuote(path))
}

// previewImageScript reads a file as binary and emits it base64-encoded
// with an image marker.
func previewImageScript(path string) string {
	return fmt.Sprintf(`import os
import json
import base64

path = %s

if not os.path.exists(path):
    print(json.dumps({"error": "File does not exist: " + path}))
    raise SystemExit(1)

if os.path.isdir(path):
    print(json.dumps({"error": "Path is a directory: " + path}))
    raise SystemExit(1)

with open(path, "rb") as f:
    content_b64 = base64.b64encode(f.read()).decode("utf-8")
print(json.dumps({"content": content_b64, "encoding": "base64", "mime_type": "image"}))
`, pyQuote(path))
}

// uploadDecodeScript decodes a staged base64 temp file into its final
// destination atomically, fixes permissions and removes the staging file.
func uploadDecodeScript(b64TmpPath, destPath string) string {
	return fmt.Sprintf(`import base64
import os
import sys

b64_file = %s
file_path = %s

try:
    with open(b64_file, "r") as f:
        content = base64.b64decode(f.read())
    os.makedirs(os.path.dirname(file_path), exist_ok=True)
    tmp_path = file_path + ".part"
    with open(tmp_path, "wb") as f:
        f.write(content)
    os.replace(tmp_path, file_path)
    os.chmod(file_path, 0o644)
    os.remove(b64_file)
    print("success")
except Exception as e:
    print("error: " + str(e))
    try:
        os.remove(b64_file)
    except OSError:
        pass
    sys.exit(1)
`, pyQuote(b64TmpPath), pyQuote(destPath))
}
