package hasura

const commentFields = `
	id
	parent_id
	url
	circle_id
	comment
	edited_comment
	timestamp
	updated
	removed
	user { id uuid display_name image }
	scores_aggregate { aggregate { sum { score } } }
`

const latestFields = `
	id
	parent_id
	url
	circle_id
	comment
	edited_comment
	timestamp
	updated
	removed
	score
	user { id uuid display_name image }
`

const queryCommentsByURL = `
query ($where: comments_bool_exp!, $offset: Int!, $limit: Int) {
	comments(where: $where, order_by: [{timestamp: asc}, {id: asc}], offset: $offset, limit: $limit) {` + commentFields + `}
	comments_aggregate(where: $where) { aggregate { count } }
}`

const queryCountComments = `
query ($where: comments_bool_exp!) {
	comments_aggregate(where: $where) { aggregate { count } }
}`

const queryLatest = `
query ($where: latest_comments_bool_exp!, $offset: Int!, $limit: Int) {
	latest_comments(where: $where, order_by: [{timestamp: desc}, {id: desc}], offset: $offset, limit: $limit) {` + latestFields + `}
}`

const queryCountLatest = `
query ($where: latest_comments_bool_exp!) {
	latest_comments_aggregate(where: $where) { aggregate { count } }
}`

const queryCommentByID = `
query ($id: uuid!) {
	comments_by_pk(id: $id) {` + commentFields + `}
}`

const queryCommentsByUser = `
query ($user: uuid!) {
	comments(where: {user_uuid: {_eq: $user}}, order_by: {timestamp: desc}) {` + commentFields + `}
}`

const mutationInsertComment = `
mutation ($object: comments_insert_input!) {
	insert_comments_one(object: $object) {` + commentFields + `}
}`

const mutationUpdateComment = `
mutation ($id: uuid!, $user: uuid!, $set: comments_set_input!) {
	update_comments(where: {id: {_eq: $id}, user_uuid: {_eq: $user}}, _set: $set) {
		affected_rows
		returning {` + commentFields + `}
	}
}`

const mutationVote = `
mutation ($comment: uuid!, $user: uuid!, $score: smallint!) {
	insert_scores_one(
		object: {comment_id: $comment, user_id: $user, score: $score}
		on_conflict: {constraint: scores_comment_id_user_id_key, update_columns: [score]}
	) {
		comment { scores_aggregate { aggregate { sum { score } } } }
	}
}`

const mutationUpsertUser = `
mutation ($object: users_insert_input!) {
	insert_users_one(
		object: $object
		on_conflict: {constraint: users_email_key, update_columns: [id, display_name, image, access_token]}
	) {
		uuid id display_name email image access_token receive_mail
	}
}`

const mutationReceiveMail = `
mutation ($uuid: uuid!, $receive: Boolean!) {
	update_users_by_pk(pk_columns: {uuid: $uuid}, _set: {receive_mail: $receive}) { uuid }
}`

const mutationCreateCircle = `
mutation ($name: String!, $password: String!, $owner: uuid!) {
	insert_circles_one(object: {name: $name, password: $password, users_circles: {data: {user_uuid: $owner}}}) {
		id name
	}
}`

const queryFindCircle = `
query ($name: String!) {
	circles(where: {name: {_eq: $name}}) { id name password }
}`

const mutationJoinCircle = `
mutation ($user: uuid!, $circle: uuid!) {
	insert_users_circles_one(
		object: {user_uuid: $user, circle_id: $circle}
		on_conflict: {constraint: users_circles_pkey, update_columns: []}
	) { circle_id }
}`

const queryCountMembers = `
query ($where: users_circles_bool_exp!) {
	users_circles_aggregate(where: $where) { aggregate { count } }
}`

const mutationLeaveCircle = `
mutation ($user: uuid!, $circle: uuid!) {
	delete_users_circles(where: {user_uuid: {_eq: $user}, circle_id: {_eq: $circle}}) { affected_rows }
}`

const mutationDeleteCircle = `
mutation ($circle: uuid!) {
	delete_circles_by_pk(id: $circle) { id }
}`

const queryCirclesByMember = `
query ($user: uuid!, $comments: comments_bool_exp!) {
	circles(where: {users_circles: {user_uuid: {_eq: $user}}}, order_by: {name: asc}) {
		id
		name
		users_circles_aggregate { aggregate { count } }
		comments_aggregate(where: $comments) { aggregate { count } }
	}
}`

const queryCircleName = `
query ($circle: uuid!) {
	circles_by_pk(id: $circle) { name }
}`

const queryRecipients = `
query ($where: comments_bool_exp!) {
	comments(where: $where, order_by: {timestamp: asc}) {
		user { uuid email display_name receive_mail }
	}
}`
